package members

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
)

// Максимальная длина названия университета
const maxUniversityLen = 128

// Service управляет профилями.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Touch регистрирует пользователя или обновляет его данные при каждом обращении.
func (s *Service) Touch(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: пустой идентификатор пользователя", common.ErrNotFound)
	}
	p.Username = strings.TrimPrefix(p.Username, "@")
	return s.store.Upsert(ctx, p)
}

func (s *Service) Get(ctx context.Context, userID string) (*Member, error) {
	return s.store.Get(ctx, userID)
}

// GetByUsername ищет по @username (с @ или без).
func (s *Service) GetByUsername(ctx context.Context, username string) (*Member, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, common.ErrNotFound
	}
	return s.store.GetByUsername(ctx, username)
}

// Resolve принимает либо @username, либо ID и возвращает ID пользователя.
// Неизвестный @username: ErrNotFound; голый ID возвращается как есть.
func (s *Service) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") {
		m, err := s.GetByUsername(ctx, ref)
		if err != nil {
			return "", err
		}
		return m.UserID, nil
	}
	if ref == "" {
		return "", common.ErrNotFound
	}
	return ref, nil
}

// Profiles возвращает профили по списку ID. Ошибку хранилища логируем и отдаём пустую карту.
func (s *Service) Profiles(ctx context.Context, userIDs []string) map[string]*Member {
	out, err := s.store.GetMany(ctx, userIDs)
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить профили участников")
		return map[string]*Member{}
	}
	return out
}

// SetUniversity сохраняет университет пользователя.
func (s *Service) SetUniversity(ctx context.Context, userID, university string) error {
	university = strings.TrimSpace(university)
	if university == "" || utf8.RuneCountInString(university) > maxUniversityLen {
		return fmt.Errorf("%w: название университета от 1 до %d символов", common.ErrInvalidAmount, maxUniversityLen)
	}
	if err := s.store.SetUniversity(ctx, userID, university); err != nil {
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "university": university}).Info("Университет обновлён")
	return nil
}
