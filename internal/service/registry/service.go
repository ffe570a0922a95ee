package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")

// Collaborators are the per-connection services a session talks to.
type Collaborators struct {
	Voice   session.VoiceOutput
	Capture session.CaptureProvider
}

type entry struct {
	info chat.Session
	ctrl *session.Controller
}

// Service keeps track of live sessions. Sessions are ephemeral: they exist
// only while the connection that created them is open.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	chat    session.ChatService
	chatErr error
	tutor   persona.Persona
	cfg     config.SessionConfig
}

// NewService bootstraps the registry. chatErr, when non-nil, explains why no
// chat service is available and is returned from every Create.
func NewService(chatSvc session.ChatService, chatErr error, tutor persona.Persona, cfg config.SessionConfig) *Service {
	if chatSvc == nil && chatErr == nil {
		chatErr = session.ErrConfiguration
	}
	return &Service{
		sessions: make(map[string]*entry),
		chat:     chatSvc,
		chatErr:  chatErr,
		tutor:    tutor,
		cfg:      cfg,
	}
}

// Ready reports whether sessions can be created. The error always matches
// session.ErrConfiguration.
func (s *Service) Ready() error {
	if s.chat != nil {
		return nil
	}
	if errors.Is(s.chatErr, session.ErrConfiguration) {
		return s.chatErr
	}
	return fmt.Errorf("%w: %v", session.ErrConfiguration, s.chatErr)
}

// Persona returns the tutor every session talks to.
func (s *Service) Persona() persona.Persona { return s.tutor }

// Create starts a new controller and registers it.
func (s *Service) Create(ctx context.Context, collab Collaborators) (*session.Controller, chat.Session, error) {
	if err := s.Ready(); err != nil {
		return nil, chat.Session{}, err
	}

	info := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: s.tutor.ID,
		CreatedAt: time.Now().UTC(),
	}

	ctrl, err := session.New(ctx, session.Options{
		ID:          info.ID,
		Persona:     s.tutor,
		Locale:      s.cfg.Locale,
		Chat:        s.chat,
		Voice:       collab.Voice,
		Capture:     collab.Capture,
		ChatTimeout: s.cfg.ChatTimeout,
		NoticeTTL:   s.cfg.NoticeTTL,
	})
	if err != nil {
		return nil, chat.Session{}, err
	}

	s.mu.Lock()
	s.sessions[info.ID] = &entry{info: info, ctrl: ctrl}
	s.mu.Unlock()

	log.Printf("[session] created %s (persona=%s)", info.ID, info.PersonaID)
	return ctrl, info, nil
}

// Get retrieves a live session by identifier.
func (s *Service) Get(id string) (*session.Controller, chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, chat.Session{}, ErrSessionNotFound
	}
	return e.ctrl, e.info, nil
}

// Remove closes and forgets a session. Unknown IDs are ignored.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		e.ctrl.Close()
		log.Printf("[session] closed %s", id)
	}
}

// CloseAll tears down every live session.
func (s *Service) CloseAll() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		entries = append(entries, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Close()
	}
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
