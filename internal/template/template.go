// Package template implements Template recipe CRUD and the Container-VM /
// Function-VM polymorphism spec.md's design notes describe: both are
// expressed as ordinary Templates whose rootfs happens to be a pre-baked
// container-runtime or function-runtime image, not a distinct code path.
//
// Grounded on the teacher's internal/api/templates.go CRUD handler shape
// (validate → store call → envelope), re-expressed as a plain service
// the Manager's HTTP layer calls into rather than an echo.HandlerFunc
// directly, consistent with the rest of this tree's handler/service split.
package template

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// FunctionSourcePath and FunctionReloadCommand are the fixed convention a
// function-vm rootfs image is expected to honor: the guest agent's
// write-code endpoint always overwrites this path and runs this command
// to signal the runtime supervisor, regardless of which function-runtime
// image (node, python, ...) the template's RootfsRef points at.
const FunctionSourcePath = "/opt/fleetforge-function/source"

var FunctionReloadCommand = []string{"systemctl", "restart", "fleetforge-function"}

// Service implements Template CRUD against the store.
type Service struct {
	st store.Store
}

func New(st store.Store) *Service {
	return &Service{st: st}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Name          string
	VCPU          int
	MemMiB        int
	KernelRef     string
	RootfsRef     string
	BootArgs      string
	SMT           bool
	CPUTemplate   string
	TrackDirty    bool
	RestartPolicy model.RestartPolicy
	Kind          model.TemplateKind
}

func (r CreateRequest) validate() error {
	if r.Name == "" {
		return apierr.Validation("name is required")
	}
	if r.VCPU <= 0 || r.MemMiB <= 0 {
		return apierr.Validation("vcpu and mem_mib must be positive")
	}
	if r.KernelRef == "" || r.RootfsRef == "" {
		return apierr.Validation("kernel_ref and rootfs_ref are required")
	}
	switch r.Kind {
	case "", model.TemplateGeneric, model.TemplateContainer, model.TemplateFunction:
	default:
		return apierr.Validation(fmt.Sprintf("unknown template kind %q", r.Kind))
	}
	return nil
}

// Create registers a new Template recipe. Container-VM and Function-VM
// templates are ordinary templates whose RootfsRef names a pre-baked
// container-runtime or function-runtime Image — there is no separate
// storage shape for them.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Template, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.st.GetImage(ctx, req.KernelRef); err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.Validation("unknown kernel image " + req.KernelRef)
		}
		return nil, fmt.Errorf("look up kernel image: %w", err)
	}
	if _, err := s.st.GetImage(ctx, req.RootfsRef); err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.Validation("unknown rootfs image " + req.RootfsRef)
		}
		return nil, fmt.Errorf("look up rootfs image: %w", err)
	}

	kind := req.Kind
	if kind == "" {
		kind = model.TemplateGeneric
	}
	restartPolicy := req.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = model.RestartOnFailure
	}

	t := &model.Template{
		ID:            uuid.NewString(),
		Name:          req.Name,
		VCPU:          req.VCPU,
		MemMiB:        req.MemMiB,
		KernelRef:     req.KernelRef,
		RootfsRef:     req.RootfsRef,
		BootArgs:      req.BootArgs,
		SMT:           req.SMT,
		CPUTemplate:   req.CPUTemplate,
		TrackDirty:    req.TrackDirty,
		RestartPolicy: restartPolicy,
		Kind:          kind,
		CreatedAt:     time.Now(),
	}
	if err := s.st.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Template, error) {
	t, err := s.st.GetTemplate(ctx, id)
	if err == store.ErrNotFound {
		return nil, apierr.NotFound("template not found")
	}
	return t, err
}

func (s *Service) List(ctx context.Context) ([]*model.Template, error) {
	return s.st.ListTemplates(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.st.DeleteTemplate(ctx, id); err != nil {
		if err == store.ErrNotFound {
			return apierr.NotFound("template not found")
		}
		return err
	}
	return nil
}

// Recipe is the vmservice.CreateRequest-shaped set of fields Resolve
// returns for a Template, letting the caller override individual fields (e.g. a
// caller-supplied name or an explicit VCPU count) after the recipe is
// applied. Returning plain fields rather than a vmservice.CreateRequest
// avoids an import cycle between internal/template and internal/vmservice.
type Recipe struct {
	VCPU          int
	MemMiB        int
	KernelRef     string
	RootfsRef     string
	BootArgs      string
	SMT           bool
	CPUTemplate   string
	TrackDirty    bool
	RestartPolicy model.RestartPolicy
}

func (s *Service) Resolve(ctx context.Context, id string) (Recipe, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return Recipe{}, err
	}
	return Recipe{
		VCPU:          t.VCPU,
		MemMiB:        t.MemMiB,
		KernelRef:     t.KernelRef,
		RootfsRef:     t.RootfsRef,
		BootArgs:      t.BootArgs,
		SMT:           t.SMT,
		CPUTemplate:   t.CPUTemplate,
		TrackDirty:    t.TrackDirty,
		RestartPolicy: t.RestartPolicy,
	}, nil
}
