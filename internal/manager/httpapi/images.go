package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type createImageRequest struct {
	Kind          model.ImageKind `json:"kind"`
	Name          string          `json:"name"`
	CanonicalPath string          `json:"canonical_path"`
	SizeBytes     int64           `json:"size_bytes"`
	SHA256        string          `json:"sha256"`
}

func (s *Server) createImage(c echo.Context) error {
	var req createImageRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.Name == "" || req.CanonicalPath == "" {
		return respondErr(c, apierr.Validation("name and canonical_path are required"))
	}
	img := &model.Image{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		Name:          req.Name,
		CanonicalPath: req.CanonicalPath,
		SizeBytes:     req.SizeBytes,
		SHA256:        req.SHA256,
		CreatedAt:     time.Now(),
	}
	if err := s.st.CreateImage(c.Request().Context(), img); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, img)
}

func (s *Server) listImages(c echo.Context) error {
	imgs, err := s.st.ListImages(c.Request().Context(), model.ImageKind(c.QueryParam("kind")))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, imgs)
}

func (s *Server) getImage(c echo.Context) error {
	img, err := s.st.GetImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, mapNotFound(err, "image not found"))
	}
	return c.JSON(http.StatusOK, img)
}

func (s *Server) deleteImage(c echo.Context) error {
	if err := s.st.DeleteImage(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, mapNotFound(err, "image not found"))
	}
	return c.NoContent(http.StatusNoContent)
}
