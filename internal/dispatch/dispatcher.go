package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/ghapp"
	"github.com/autodev/internal/metrics"
)

// ErrAuth is returned by Handle when no credential could be minted.
var ErrAuth = errors.New("auth failed")

// CredentialSource mints installation credentials. *ghapp.App implements it.
type CredentialSource interface {
	InstallationToken(ctx context.Context, installationID int64) (*ghapp.Credential, error)
}

// Status is the dispatcher's answer to one delivery.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusIgnored  Status = "ignored"
)

// Decision reports what Handle did with a delivery.
type Decision struct {
	Status Status
	Role   agent.Role
	TaskID string
	Reason string
}

// Dispatcher authenticates deliveries, classifies them and launches tasks.
type Dispatcher struct {
	creds    CredentialSource
	launcher Launcher
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// New creates a Dispatcher. m may be nil.
func New(creds CredentialSource, launcher Launcher, m *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		creds:    creds,
		launcher: launcher,
		metrics:  m,
		logger:   log.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle processes one parsed webhook payload. Deliveries without an
// installation are ignored. The credential is resolved before classification,
// so an auth failure is reported for every handled event type. Only ErrAuth
// and launch failures are returned as errors.
func (d *Dispatcher) Handle(ctx context.Context, eventName string, payload interface{}, deliveryID string) (Decision, error) {
	dec, err := d.handle(ctx, payload, deliveryID)
	result := string(dec.Status)
	if err != nil {
		result = "error"
		if errors.Is(err, ErrAuth) {
			result = "auth_failed"
		}
	}
	d.metrics.ObserveWebhook(eventName, result)
	return dec, err
}

func (d *Dispatcher) handle(ctx context.Context, payload interface{}, deliveryID string) (Decision, error) {
	ev, handled := FromWebhook(payload, deliveryID)
	if !handled {
		return ignored("unsupported event"), nil
	}
	if ev.InstallationID == 0 {
		return ignored("no installation"), nil
	}

	logger := d.logger.With().
		Str("delivery", ev.DeliveryID).
		Int64("installation", ev.InstallationID).
		Str("repository", ev.Repository).
		Logger()

	cred, err := d.creds.InstallationToken(ctx, ev.InstallationID)
	if err != nil {
		logger.Error().Err(err).Msg("Could not resolve installation credential")
		return Decision{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	role, ok := Classify(ev)
	if !ok {
		logger.Debug().Str("kind", string(ev.Kind)).Msg("Event ignored")
		return ignored("no matching role"), nil
	}

	t := agent.NewTask(role, ev.Repository, ev.SubjectNumber, cred.Token)
	t.InstallationID = ev.InstallationID
	if err := d.launcher.Launch(ctx, t); err != nil {
		logger.Error().Err(err).Str("role", string(role)).Msg("Could not launch task")
		return Decision{}, err
	}

	logger.Info().
		Str("role", string(role)).
		Str("task_id", t.ID).
		Int("subject", ev.SubjectNumber).
		Msg("Task launched")
	return Decision{Status: StatusAccepted, Role: role, TaskID: t.ID}, nil
}

func ignored(reason string) Decision {
	return Decision{Status: StatusIgnored, Reason: reason}
}
