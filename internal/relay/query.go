package relay

import (
	"context"
	"time"

	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/session"
)

// SessionSummary is the admin view of one session
type SessionSummary struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	CreatedBy     string     `json:"createdBy"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	GraceDeadline *time.Time `json:"graceDeadline,omitempty"`
	DeviceCount   int        `json:"deviceCount"`
	OnlineCount   int        `json:"onlineCount"`
}

// SessionDetail adds members and groups to a summary
type SessionDetail struct {
	SessionSummary
	Devices []*models.Device `json:"devices"`
	Groups  []*models.Group  `json:"groups"`
}

// CodeLookup tells a prospective joiner whether a code is live
type CodeLookup struct {
	SessionID   string    `json:"sessionId"`
	OwnerName   string    `json:"ownerName"`
	DeviceCount int       `json:"deviceCount"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Stats is a point-in-time count of relay state
type Stats struct {
	Sessions         int `json:"sessions"`
	GraceSessions    int `json:"graceSessions"`
	Connections      int `json:"connections"`
	DirectoryEntries int `json:"directoryEntries"`
}

func summarize(sess *session.Session) SessionSummary {
	sum := SessionSummary{
		ID:          sess.ID,
		Code:        sess.Code,
		CreatedBy:   sess.CreatedBy,
		State:       sess.State().String(),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
		DeviceCount: sess.DeviceCount(),
		OnlineCount: sess.OnlineCount(),
	}
	if deadline, ok := sess.GraceDeadline(); ok {
		sum.GraceDeadline = &deadline
	}
	return sum
}

// Sessions lists live sessions ordered by creation time
func (s *Server) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var list []SessionSummary
	err := s.Do(ctx, func() {
		now := s.clock.Now()
		list = make([]SessionSummary, 0, s.sessions.Len())
		for _, sess := range s.sessions.All() {
			if sess.IsExpired(now) {
				continue
			}
			list = append(list, summarize(sess))
		}
	})
	return list, err
}

// SessionDetail returns one live session with its members and groups
func (s *Server) SessionDetail(ctx context.Context, id string) (*SessionDetail, error) {
	var detail *SessionDetail
	var lookupErr error
	err := s.Do(ctx, func() {
		sess, err := s.sessions.Get(id)
		if err != nil {
			lookupErr = err
			return
		}
		detail = &SessionDetail{
			SessionSummary: summarize(sess),
			Devices:        sess.Devices(),
			Groups:         sess.Groups(),
		}
	})
	if err != nil {
		return nil, err
	}
	return detail, lookupErr
}

// LookupCode resolves a join code without joining
func (s *Server) LookupCode(ctx context.Context, code string) (*CodeLookup, error) {
	if !session.ValidCode(code) {
		return nil, invalid("code", "must be %d digits", session.CodeLength)
	}

	var result *CodeLookup
	var lookupErr error
	err := s.Do(ctx, func() {
		sess, err := s.sessions.FindByCode(code)
		if err != nil {
			lookupErr = err
			return
		}
		result = &CodeLookup{
			SessionID:   sess.ID,
			DeviceCount: sess.DeviceCount(),
			ExpiresAt:   sess.ExpiresAt,
		}
		if owner, ok := sess.Owner(); ok {
			result.OwnerName = owner.DisplayName
		}
	})
	if err != nil {
		return nil, err
	}
	return result, lookupErr
}

// Directory lists registered devices, optionally filtered by username
func (s *Server) Directory(ctx context.Context, username string) ([]models.DirectoryEntry, error) {
	var list []models.DirectoryEntry
	err := s.Do(ctx, func() {
		if username != "" {
			list = s.directory.ByUsername(username)
		} else {
			list = s.directory.All()
		}
	})
	return list, err
}

// Stats counts sessions, connections and directory entries
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.Do(ctx, func() {
		for _, sess := range s.sessions.All() {
			st.Sessions++
			if sess.State() == session.StateOwnerGraceWait {
				st.GraceSessions++
			}
		}
		st.Connections = s.registry.Count()
		st.DirectoryEntries = s.directory.Len()
	})
	return st, err
}
