package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/repository"
)

// In-memory repositories for service tests. They copy records on the way in
// and out so mutated structs do not leak back into the store without an
// explicit Update, same as a real database.

type memUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, users: make(map[uint]domain.User)}
}

func (r *memUserRepo) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) ListPaged(_ context.Context, query repository.UserListQuery) (repository.PageResult[domain.User], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.User
	for _, u := range r.users {
		if query.Email != "" && u.Email != query.Email {
			continue
		}
		if query.Verified != nil && u.IsVerified != *query.Verified {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return repository.PageResult[domain.User]{
		Items:      matched,
		Page:       1,
		PageSize:   len(matched),
		Total:      int64(len(matched)),
		TotalPages: 1,
	}, nil
}

func (r *memUserRepo) SoftDelete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	nextID uint
	tokens map[uint]domain.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{nextID: 1, tokens: make(map[uint]domain.RefreshToken)}
}

func (r *memTokenRepo) Create(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = r.nextID
	r.nextID++
	r.tokens[token.ID] = *token
	return nil
}

func (r *memTokenRepo) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, repository.ErrRefreshTokenNotFound
}

func (r *memTokenRepo) ListActiveByUserID(_ context.Context, userID uint) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var active []domain.RefreshToken
	for _, t := range r.tokens {
		if t.UserID == userID && t.Valid(now) {
			active = append(active, t)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

func (r *memTokenRepo) TouchLastUsed(_ context.Context, id uint, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return repository.ErrRefreshTokenNotFound
	}
	t.LastUsedAt = &usedAt
	r.tokens[id] = t
	return nil
}

func (r *memTokenRepo) RevokeByHash(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.TokenHash == hash && !t.IsRevoked {
			now := time.Now()
			t.IsRevoked = true
			t.RevokedAt = &now
			r.tokens[id] = t
			return true, nil
		}
	}
	return false, nil
}

func (r *memTokenRepo) RevokeAllByUserID(_ context.Context, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	now := time.Now()
	for id, t := range r.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			t.RevokedAt = &now
			r.tokens[id] = t
			count++
		}
	}
	return count, nil
}

type memCodeRepo struct {
	mu     sync.Mutex
	nextID uint
	codes  map[uint]domain.VerificationCode
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{nextID: 1, codes: make(map[uint]domain.VerificationCode)}
}

func (r *memCodeRepo) Create(_ context.Context, code *domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code.ID = r.nextID
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	r.nextID++
	r.codes[code.ID] = *code
	return nil
}

func (r *memCodeRepo) FindLatestOutstanding(_ context.Context, userID uint, purpose domain.CodePurpose) (*domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.VerificationCode
	for id := range r.codes {
		c := r.codes[id]
		if c.UserID != userID || c.Purpose != purpose || c.IsUsed {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) ||
			(c.CreatedAt.Equal(latest.CreatedAt) && c.ID > latest.ID) {
			copied := c
			latest = &copied
		}
	}
	if latest == nil {
		return nil, repository.ErrVerificationCodeNotFound
	}
	return latest, nil
}

func (r *memCodeRepo) Update(_ context.Context, code *domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[code.ID]; !ok {
		return repository.ErrVerificationCodeNotFound
	}
	r.codes[code.ID] = *code
	return nil
}
