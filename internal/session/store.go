// Package session is the gorm-backed store for sessions, transcripts,
// templates and runtime settings.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a session or template does not exist.
var ErrNotFound = errors.New("session: not found")

// Store reads and writes session data.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for packages that share the connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Get returns a session without its transcript.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &sess, nil
}

// List returns sessions, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Session, error) {
	var out []models.Session
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return out, nil
}

// Words returns the session's transcript in sequence order.
func (s *Store) Words(ctx context.Context, id string) ([]models.Word, error) {
	var words []models.Word
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).
		Order("seq ASC").Find(&words).Error; err != nil {
		return nil, fmt.Errorf("session: words %s: %w", id, err)
	}
	return words, nil
}

// Participants returns the session's attendees.
func (s *Store) Participants(ctx context.Context, id string) ([]models.Participant, error) {
	var ps []models.Participant
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).
		Order("id ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("session: participants %s: %w", id, err)
	}
	return ps, nil
}

// SetEnhancedNote overwrites the enhanced note.
func (s *Store) SetEnhancedNote(ctx context.Context, id, markup string) error {
	return s.update(ctx, id, map[string]any{"enhanced_note": markup})
}

// Persist stores the final enhanced note and switches the session to the
// enhanced view.
func (s *Store) Persist(ctx context.Context, id, markup string) error {
	return s.update(ctx, id, map[string]any{
		"enhanced_note": markup,
		"active_view":   models.ViewEnhanced,
	})
}

// ShowRaw switches the session to the raw note view.
func (s *Store) ShowRaw(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{"active_view": models.ViewRaw})
}

func (s *Store) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	result := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("session: update %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetTitleIfEmpty writes title only when the session has none. It reports
// whether the title was written. The check and write are one statement, so
// a title set concurrently by the user is never overwritten.
func (s *Store) SetTitleIfEmpty(ctx context.Context, id, title string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND (title = '' OR title IS NULL)", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("session: set title %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetTitle overwrites the session title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	return s.update(ctx, id, map[string]any{"title": title})
}

// Import creates or replaces a session with its transcript and participants.
func (s *Store) Import(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		return errors.New("session: id is required")
	}
	if sess.ActiveView == "" {
		sess.ActiveView = models.ViewRaw
	}
	words, people := sess.Words, sess.Participants
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := *sess
		row.Words, row.Participants = nil, nil
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&models.Word{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		for i := range words {
			w := words[i]
			w.ID, w.SessionID = 0, sess.ID
			if w.Seq == 0 {
				w.Seq = i + 1
			}
			if err := tx.Create(&w).Error; err != nil {
				return err
			}
		}
		for i := range people {
			p := people[i]
			p.ID, p.SessionID = 0, sess.ID
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: import %s: %w", sess.ID, err)
	}
	return nil
}
