package application

import (
	"errors"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// asUpstream keeps domain errors and sentinel port errors intact and turns
// anything else (timeouts, dropped connections) into UpstreamUnavailable.
func asUpstream(msg string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.NewUpstreamUnavailableError(msg, err)
}
