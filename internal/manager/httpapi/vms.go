package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/vmservice"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type nicSpecDTO struct {
	BridgeName string           `json:"bridge_name"`
	VLANID     *int             `json:"vlan_id,omitempty"`
	RxLimit    *model.RateLimit `json:"rx_limit,omitempty"`
	TxLimit    *model.RateLimit `json:"tx_limit,omitempty"`
}

type volumeSpecDTO struct {
	VolumeID string `json:"volume_id"`
	Order    int    `json:"order"`
}

type createVMRequest struct {
	Name          string              `json:"name"`
	OwnerID       string              `json:"owner_id"`
	VCPU          int                 `json:"vcpu"`
	MemMiB        int                 `json:"mem_mib"`
	KernelImageID string              `json:"kernel_image_id"`
	RootfsImageID string              `json:"rootfs_image_id"`
	CredUser      string              `json:"cred_user"`
	CredHash      string              `json:"cred_hash"`
	BootArgs      string              `json:"boot_args"`
	SMT           bool                `json:"smt"`
	CPUTemplate   string              `json:"cpu_template"`
	RestartPolicy model.RestartPolicy `json:"restart_policy"`
	TemplateID    *string             `json:"template_id,omitempty"`
	NICs          []nicSpecDTO        `json:"nics"`
	Volumes       []volumeSpecDTO     `json:"volumes"`
	UserData      string              `json:"user_data,omitempty"`
}

func (s *Server) createVM(c echo.Context) error {
	var req createVMRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}

	svcReq := vmservice.CreateRequest{
		Name:          req.Name,
		OwnerID:       req.OwnerID,
		VCPU:          req.VCPU,
		MemMiB:        req.MemMiB,
		KernelImageID: req.KernelImageID,
		RootfsImageID: req.RootfsImageID,
		CredUser:      req.CredUser,
		CredHash:      req.CredHash,
		BootArgs:      req.BootArgs,
		SMT:           req.SMT,
		CPUTemplate:   req.CPUTemplate,
		RestartPolicy: req.RestartPolicy,
		TemplateID:    req.TemplateID,
		UserData:      req.UserData,
	}

	if req.TemplateID != nil {
		recipe, err := s.templates.Resolve(c.Request().Context(), *req.TemplateID)
		if err != nil {
			return respondErr(c, err)
		}
		if svcReq.VCPU == 0 {
			svcReq.VCPU = recipe.VCPU
		}
		if svcReq.MemMiB == 0 {
			svcReq.MemMiB = recipe.MemMiB
		}
		if svcReq.KernelImageID == "" {
			svcReq.KernelImageID = recipe.KernelRef
		}
		if svcReq.RootfsImageID == "" {
			svcReq.RootfsImageID = recipe.RootfsRef
		}
		if svcReq.BootArgs == "" {
			svcReq.BootArgs = recipe.BootArgs
		}
		if svcReq.RestartPolicy == "" {
			svcReq.RestartPolicy = recipe.RestartPolicy
		}
		svcReq.CPUTemplate = recipe.CPUTemplate
		svcReq.SMT = recipe.SMT
	}

	for _, n := range req.NICs {
		svcReq.NICs = append(svcReq.NICs, vmservice.NICSpec{
			BridgeName: n.BridgeName,
			VLANID:     n.VLANID,
			RxLimit:    n.RxLimit,
			TxLimit:    n.TxLimit,
		})
	}
	for _, v := range req.Volumes {
		svcReq.Volumes = append(svcReq.Volumes, vmservice.VolumeSpec{VolumeID: v.VolumeID, Order: v.Order})
	}

	vm, err := s.vms.Create(c.Request().Context(), svcReq)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, vm)
}

func (s *Server) listVMs(c echo.Context) error {
	vms, err := s.vms.List(c.Request().Context(), c.QueryParam("owner_id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, vms)
}

func (s *Server) getVM(c echo.Context) error {
	vm, err := s.vms.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, vm)
}

func (s *Server) deleteVM(c echo.Context) error {
	if err := s.vms.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// vmAction returns a handler dispatching one named lifecycle action to
// the matching vmservice.Service method — a single dispatcher rather
// than five near-identical handlers, since every action shares the same
// request/response shape (no body, the updated VM back).
func (s *Server) vmAction(action string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		ctx := c.Request().Context()

		var vm *model.VM
		var err error
		switch action {
		case "start":
			vm, err = s.vms.Start(ctx, id)
		case "stop":
			vm, err = s.vms.Stop(ctx, id)
		case "pause":
			vm, err = s.vms.Pause(ctx, id)
		case "resume":
			vm, err = s.vms.Resume(ctx, id)
		case "ctrl-alt-del":
			vm, err = s.vms.SendReset(ctx, id)
		default:
			err = apierr.Internal("unknown vm action "+action, nil)
		}
		if err != nil {
			return respondErr(c, err)
		}
		return c.JSON(http.StatusOK, vm)
	}
}

func (s *Server) flushMetrics(c echo.Context) error {
	if err := s.vms.FlushMetrics(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type guestIPRequest struct {
	IP string `json:"ip"`
}

// reportGuestIP is the Guest Agent's outbound liveness/IP report sink —
// internal/guestagent.Reporter posts here on boot and on every change.
func (s *Server) reportGuestIP(c echo.Context) error {
	var req guestIPRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.IP == "" {
		return respondErr(c, apierr.Validation("ip is required"))
	}
	if err := s.vms.SetGuestIP(c.Request().Context(), c.Param("id"), req.IP); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
