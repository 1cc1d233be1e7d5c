package processor

import (
	"context"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
)

// Respond answers free text for userID from the stored dialog state. It lets
// the messenger bridge talk to the local dialog engine.
func (p *Processor) Respond(ctx context.Context, userID, text string) (string, error) {
	out, err := p.HandleTurn(ctx, dialog.Turn{UserID: userID, Utterance: text})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
