package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/internal/editor"
	"github.com/aziende/editorbridge/internal/models"
)

var ErrInvalidInput = errors.New("invalid input")

// NewDocument is the input of the creation workflow.
type NewDocument struct {
	Title      string
	Extension  string
	Content    []byte
	Tenant     *string // superadmin only; nil means the requester's tenant
	Versioning *bool   // defaults to true
}

// Service defines the document business operations used by the handler
// layer. Every call is scoped by an explicit requester.
type Service interface {
	Create(ctx context.Context, req models.Requester, in NewDocument) (*document.Document, error)
	Get(ctx context.Context, req models.Requester, id string) (*document.Document, error)
	List(ctx context.Context, req models.Requester) ([]*document.Document, error)
	Update(ctx context.Context, req models.Requester, id string, content []byte, title *string) (*document.Document, error)
	Versions(ctx context.Context, req models.Requester, id string) ([]*document.Version, error)
	Version(ctx context.Context, req models.Requester, id string, version int64) (*document.Version, error)
}

// New returns a Service backed by repo.
func New(repo repository.Repository) Service {
	return &documentService{repo: repo}
}

type documentService struct {
	repo repository.Repository
}

func (s *documentService) Create(ctx context.Context, req models.Requester, in NewDocument) (*document.Document, error) {
	if !editor.PermissionsFor(req.Role).Edit {
		return nil, document.ErrForbidden
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	ext := strings.ToLower(strings.TrimPrefix(in.Extension, "."))
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(path.Ext(title)), ".")
	}
	if _, err := document.DetectFormat(ext); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	tenant := req.Tenant
	if in.Tenant != nil {
		if !req.Global() && *in.Tenant != req.Tenant {
			return nil, document.ErrForbidden
		}
		tenant = *in.Tenant
	}
	d := &document.Document{
		Title:      title,
		Extension:  ext,
		Content:    in.Content,
		Tenant:     tenant,
		Versioning: in.Versioning == nil || *in.Versioning,
		ModifiedBy: req.ID,
	}
	if _, err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *documentService) Get(ctx context.Context, req models.Requester, id string) (*document.Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.CanAccess(d.Tenant) {
		return nil, document.ErrForbidden
	}
	return d, nil
}

func (s *documentService) List(ctx context.Context, req models.Requester) ([]*document.Document, error) {
	tenant := req.Tenant
	if req.Global() {
		tenant = ""
	} else if tenant == "" {
		// no tenant: only global documents
		all, err := s.repo.List(ctx, "")
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, d := range all {
			if d.Tenant == "" {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return s.repo.List(ctx, tenant)
}

// Update is the direct-save path. It goes through CommitContent like an
// editor save, so version bookkeeping is identical.
func (s *documentService) Update(ctx context.Context, req models.Requester, id string, content []byte, title *string) (*document.Document, error) {
	if _, err := s.Get(ctx, req, id); err != nil {
		return nil, err
	}
	if !editor.PermissionsFor(req.Role).Edit {
		return nil, document.ErrForbidden
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrInvalidInput)
	}
	return s.repo.CommitContent(ctx, id, document.Commit{
		Content:    content,
		ModifiedBy: req.ID,
		Source:     document.SourceForm,
		Title:      title,
	})
}

func (s *documentService) Versions(ctx context.Context, req models.Requester, id string) ([]*document.Version, error) {
	if _, err := s.Get(ctx, req, id); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, id)
}

func (s *documentService) Version(ctx context.Context, req models.Requester, id string, version int64) (*document.Version, error) {
	if _, err := s.Get(ctx, req, id); err != nil {
		return nil, err
	}
	return s.repo.GetVersion(ctx, id, version)
}
