package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/bivex/storekit-settlement/internal/application/command"
	"github.com/bivex/storekit-settlement/internal/application/dto"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// DeviceHandler handles device registration
type DeviceHandler struct {
	registerCmd *command.RegisterDeviceCommand
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(registerCmd *command.RegisterDeviceCommand) *DeviceHandler {
	return &DeviceHandler{registerCmd: registerCmd}
}

// Register issues an access token for a device
// @Summary Register device
// @Tags devices
// @Accept json
// @Produce json
// @Param request body dto.RegisterDeviceRequest true "Device registration request"
// @Success 201 {object} response.SuccessResponse{data=dto.RegisterDeviceResponse}
// @Failure 400 {object} response.ErrorResponse
// @Router /devices/register [post]
func (h *DeviceHandler) Register(c *gin.Context) {
	var req dto.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.registerCmd.Execute(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, resp)
}
