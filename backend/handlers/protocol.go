package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp/protocol"
)

// ProtocolAction accepts one protocol request, answers ACK or NACK right
// away and leaves the rest to the engine. The engine's work is only started
// once the acknowledgement has been written into the response.
func ProtocolAction(webApp *WebApp, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req protocol.Request
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return utils.SendJSON(c, fiber.StatusBadRequest, protocol.Response{
				Message: protocol.AckMessage{Ack: protocol.Ack{Status: protocol.NackStatus}},
				Error:   &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "request body is not valid JSON"},
			})
		}

		// fiber reuses header buffers once the handler returns
		persona := ""
		if webApp.PersonaHeader != "" {
			persona = strings.Clone(c.Get(webApp.PersonaHeader))
		}

		resp, start := webApp.Engine.Handle(c.UserContext(), action, &req, persona)
		if !resp.Acked() {
			return utils.SendJSON(c, fiber.StatusBadRequest, resp)
		}
		if err := utils.SendJSON(c, fiber.StatusOK, resp); err != nil {
			return err
		}
		start()
		return nil
	}
}
