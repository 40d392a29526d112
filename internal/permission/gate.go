// Package permission obtains microphone authorization before listening.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// Model selects whether the platform requires an explicit permission request.
type Model string

const (
	ModelAuto     Model = "auto"
	ModelExplicit Model = "explicit"
	ModelNone     Model = "none"
)

// DefaultPrompt is the dialog shown when asking for the microphone.
var DefaultPrompt = ports.PermissionPrompt{
	Title:          "Permissão de Microfone",
	Message:        "Este app precisa do microfone para reconhecer comandos de voz.",
	PositiveButton: "Permitir",
}

// Gate implements ports.PermissionGate.
type Gate struct {
	explicit  bool
	requester ports.PermissionRequester
	prompt    ports.PermissionPrompt
	logger    *slog.Logger
}

// NewGate builds a gate for the given model. ModelAuto follows the build
// target: android and ios ask, everything else grants.
func NewGate(model Model, requester ports.PermissionRequester, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	explicit := platformHasPermissionModel
	switch model {
	case ModelExplicit:
		explicit = true
	case ModelNone:
		explicit = false
	}
	return &Gate{
		explicit:  explicit,
		requester: requester,
		prompt:    DefaultPrompt,
		logger:    logger,
	}
}

// Explicit reports whether this gate issues platform requests.
func (g *Gate) Explicit() bool {
	return g.explicit
}

// RequestMicrophoneAccess returns true or an error wrapping domain.ErrPermissionDenied.
func (g *Gate) RequestMicrophoneAccess(ctx context.Context) (bool, error) {
	if !g.explicit {
		return true, nil
	}
	if g.requester == nil {
		return false, fmt.Errorf("%w: no permission requester available", domain.ErrPermissionDenied)
	}

	granted, err := g.requester.RequestPermission(ctx, g.prompt)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if !granted {
		g.logger.Info("microphone permission refused")
		return false, domain.ErrPermissionDenied
	}
	return true, nil
}
