package classifier

import (
	"github.com/rs/zerolog"

	"github.com/pbaille/dramabot/internal/domain"
	"github.com/pbaille/dramabot/internal/logging"
)

// Lister lists the current catalog
type Lister interface {
	ListAll() ([]domain.CatalogEntry, error)
}

// Responder answers messages from the live catalog. The snapshot is rebuilt
// from the store on every call so that imports are visible immediately.
type Responder struct {
	store      Lister
	classifier *Classifier
	logger     *zerolog.Logger
}

// NewResponder creates a Responder
func NewResponder(store Lister, c *Classifier, logger *zerolog.Logger) *Responder {
	return &Responder{store: store, classifier: c, logger: logging.OrNop(logger)}
}

// Classifier returns the classifier the responder uses
func (r *Responder) Classifier() *Classifier {
	return r.classifier
}

// Respond classifies text against the current store contents. A store
// failure is logged and the message is answered from an empty catalog.
func (r *Responder) Respond(text string) domain.Reply {
	entries, err := r.store.ListAll()
	if err != nil {
		r.logger.Error().Err(err).Msg("catalog could not be listed, answering from an empty catalog")
		entries = nil
	}

	reply, rule := r.classifier.classify(text, NewSnapshot(entries))
	r.logger.Debug().
		Str("text", text).
		Str("rule", rule).
		Str("visibility", string(reply.Visibility)).
		Msg("message classified")
	return reply
}
