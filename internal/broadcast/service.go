// Package broadcast propagates featured-submission and problem changes to
// public-display clients: locally through the websocket registry, and across
// instances through redis pubsub.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/codelive/internal/channel"
	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/event"
)

const maxConcurrent = 100

// Registry is the local fanout target.
type Registry interface {
	Broadcast(sessionID string, m channel.Message)
}

type Config struct {
	EventBus *event.Bus
	Registry Registry
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb       *event.Bus
	registry Registry
	redis    redis.UniversalClient
	prefix   string
	// instance identifies this process on the pubsub mirror, so Relay can
	// drop frames this instance already delivered locally.
	instance string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		registry: c.Registry,
		redis:    c.Redis,
		prefix:   c.Prefix,
		instance: uuid.NewString(),
	}

	s.eb.Subscribe(domain.EventNameProblemUpdated, func(ctx context.Context, e event.Event) error {
		return s.HandleProblemUpdated(ctx, e.(domain.EventProblemUpdated))
	})
	s.eb.Subscribe(domain.EventNameCodeEdited, func(ctx context.Context, e event.Event) error {
		return s.HandleCodeEdited(ctx, e.(domain.EventCodeEdited))
	})
	s.eb.Subscribe(domain.EventNameSubmissionFeatured, func(ctx context.Context, e event.Event) error {
		return s.HandleSubmissionFeatured(ctx, e.(domain.EventSubmissionFeatured))
	})
	s.eb.Subscribe(domain.EventNameExecutionFinished, func(ctx context.Context, e event.Event) error {
		return s.HandleExecutionFinished(ctx, e.(domain.EventExecutionFinished))
	})

	return s
}

// HandleProblemUpdated sends the full replacement problem. The update
// carries no code field, so displays keep whatever execution result they
// are showing. The legacy PROBLEM_UPDATE frame goes out alongside for older
// display clients.
func (s *Service) HandleProblemUpdated(ctx context.Context, e domain.EventProblemUpdated) error {
	update := channel.PublicSubmissionUpdate{
		Problem: &channel.ProblemPayload{
			Title:       e.Problem.Title,
			Description: e.Problem.Description,
			StarterCode: e.Problem.StarterCode,
		},
		ExecutionSettings: settingsPayload(e.ExecutionSettings),
		Timestamp:         e.Timestamp.UnixMilli(),
	}

	legacy := channel.ProblemUpdate{ProblemText: e.Problem.Description}

	return s.publish(ctx, e.SessionID, update, legacy)
}

// HandleCodeEdited relays live edits of the featured submission. The code
// field is always present here, which tells displays to clear any stale
// execution result next to the new code.
func (s *Service) HandleCodeEdited(ctx context.Context, e domain.EventCodeEdited) error {
	if !e.Featured {
		return nil
	}

	code := e.Code
	return s.publish(ctx, e.SessionID, channel.PublicSubmissionUpdate{
		Code:      &code,
		Timestamp: e.Timestamp.UnixMilli(),
	})
}

func (s *Service) HandleSubmissionFeatured(ctx context.Context, e domain.EventSubmissionFeatured) error {
	code := e.Code
	featured := e.Featured

	return s.publish(ctx, e.SessionID, channel.PublicSubmissionUpdate{
		Code:                  &code,
		HasFeaturedSubmission: &featured,
		Timestamp:             e.Timestamp.UnixMilli(),
	})
}

func (s *Service) HandleExecutionFinished(ctx context.Context, e domain.EventExecutionFinished) error {
	if !e.Featured {
		return nil
	}

	return s.publish(ctx, e.SessionID, channel.ExecutionResult{
		Success:         e.Result.Success,
		Output:          e.Result.Output,
		Error:           e.Result.Error,
		ExecutionTimeMS: e.Result.ExecutionTime.Milliseconds(),
	})
}

// mirrorFrame is the pubsub wire format: the encoded protocol frame plus the
// publishing instance, so each instance can skip its own frames.
type mirrorFrame struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// publish fans frames out to local subscribers and mirrors them to the
// session's redis channel for other instances.
func (s *Service) publish(ctx context.Context, sessionID string, msgs ...channel.Message) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, m := range msgs {
		s.registry.Broadcast(sessionID, m)

		m := m
		eg.Go(func() error {
			frame, err := channel.Encode(m)
			if err != nil {
				return fmt.Errorf("broadcast: encode %s: %w", m.Type(), err)
			}
			data, err := json.Marshal(mirrorFrame{Origin: s.instance, Frame: frame})
			if err != nil {
				return fmt.Errorf("broadcast: wrap %s: %w", m.Type(), err)
			}
			return s.redis.Publish(ctx, s.channelKey(sessionID), data).Err()
		})
	}

	return eg.Wait()
}

// Relay applies frames published by other instances to the local registry.
// Frames this instance published are skipped: publish already delivered them
// locally. Relay blocks until ctx is done.
func (s *Service) Relay(ctx context.Context) error {
	sub := s.redis.PSubscribe(ctx, s.channelKey("*"))
	defer sub.Close()

	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}

			var mf mirrorFrame
			if err := json.Unmarshal([]byte(msg.Payload), &mf); err != nil || len(mf.Frame) == 0 {
				continue // foreign junk on the channel, skip
			}
			if mf.Origin == s.instance {
				continue
			}

			m, err := channel.Decode(mf.Frame)
			if err != nil {
				continue
			}

			sessionID := strings.TrimPrefix(msg.Channel, s.channelKey(""))
			s.registry.Broadcast(sessionID, m)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) channelKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

func settingsPayload(es *domain.ExecutionSettings) *channel.ExecutionSettingsPayload {
	if es == nil {
		return nil
	}
	return &channel.ExecutionSettingsPayload{
		Stdin:      es.Stdin,
		RandomSeed: es.RandomSeed,
	}
}
