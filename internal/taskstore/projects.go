package taskstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskpilot/taskpilot/internal/domain"
)

// CreateProject inserts a new project
func (s *Store) CreateProject(p *domain.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.MainBranch == "" {
		p.MainBranch = "main"
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, repository_url, description, local_path, main_branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.RepositoryURL, p.Description, p.LocalPath, p.MainBranch, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID
func (s *Store) GetProject(id string) (*domain.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, name, repository_url, description, local_path, main_branch, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)

	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProjects returns all projects ordered by name
func (s *Store) ListProjects() ([]*domain.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, repository_url, description, local_path, main_branch, created_at, updated_at
		FROM projects ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row scanner) (*domain.Project, error) {
	var p domain.Project
	var description, localPath, mainBranch sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.RepositoryURL, &description, &localPath, &mainBranch, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.LocalPath = localPath.String
	p.MainBranch = mainBranch.String
	return &p, nil
}
