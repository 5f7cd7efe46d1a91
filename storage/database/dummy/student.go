package dummydb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mitihani/backend/core/student"
)

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excluded ...student.Student) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	isExcluded := func(id string) bool {
		for _, e := range excluded {
			if e.ID == id {
				return true
			}
		}
		return false
	}
	for _, std := range repo.db.students {
		if isExcluded(std.ID) {
			continue
		}
		if std.Username == username {
			return student.ErrUsernameExists
		}
		if email != "" && std.Email == email {
			return student.ErrEmailExists
		}
	}
	return nil
}

func (repo *studentRepository) CreateStudent(_ context.Context, std student.Student) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	std.ID = uuid.New().String()
	repo.db.students[std.ID] = &std
	return std, nil
}

func (repo *studentRepository) GetStudentByID(_ context.Context, id string) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if std, ok := repo.db.students[id]; ok {
		return *std, nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) GetStudentByUsername(_ context.Context, username string) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, std := range repo.db.students {
		if std.Username == username {
			return *std, nil
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) GetStudentByUsernameOrEmail(_ context.Context, username string) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, std := range repo.db.students {
		if std.Username == username || (std.Email != "" && std.Email == username) {
			return *std, nil
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) UpdateStudent(_ context.Context, std student.Student, isActive *bool) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cur, ok := repo.db.students[std.ID]
	if !ok {
		return student.Student{}, student.ErrNotFound
	}
	if std.Name != "" {
		cur.Name = std.Name
	}
	if std.Username != "" {
		cur.Username = std.Username
	}
	if std.Email != "" {
		cur.Email = std.Email
	}
	if len(std.PasswordHash) > 0 {
		cur.PasswordHash = std.PasswordHash
	}
	if !std.LastLogin.IsZero() {
		cur.LastLogin = std.LastLogin
	}
	if isActive != nil {
		cur.IsActive = isActive
	}
	cur.UpdatedAt = time.Now().UTC()
	return *cur, nil
}

func (repo *studentRepository) SetBlocked(_ context.Context, id string, blocked bool, reason string, version int) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cur, ok := repo.db.students[id]
	if !ok {
		return student.Student{}, student.ErrNotFound
	}
	if cur.Version != version {
		return student.Student{}, student.ErrVersionConflict
	}
	cur.Blocked = blocked
	cur.BlockedReason = reason
	if blocked {
		cur.BlockedAt = time.Now().UTC()
	} else {
		cur.BlockedReason = ""
		cur.BlockedAt = time.Time{}
	}
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	return *cur, nil
}
