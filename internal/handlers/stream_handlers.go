package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/services"
	"kds_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// StreamHandler serves the live event stream over SSE. Room membership is
// derived from the viewer's role, never from the request alone.
type StreamHandler struct {
	hub            *broadcast.Hub
	stationService services.StationService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *broadcast.Hub, ss services.StationService) *StreamHandler {
	return &StreamHandler{hub: hub, stationService: ss}
}

// Stream opens a viewer session and relays hub envelopes as server-sent
// events until the client disconnects.
//
// Rooms by role:
//
//	chef    - chef room, plus station rooms from ?stations=1,2
//	staff   - staff room
//	manager - manager room, plus any rooms from ?rooms=chef,station:3
//	customer - the table room from the token's table_number claim only
func (h *StreamHandler) Stream(c *gin.Context) {
	role, _ := c.Get("userRole")
	roleStr, _ := role.(string)

	rooms, err := h.roomsForRole(c, roleStr)
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid stream subscription.", err.Error()))
		return
	}
	if len(rooms) == 0 {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeForbidden, "No rooms available for this role.", roleStr))
		return
	}

	session := broadcast.NewSession()
	for _, room := range rooms {
		h.hub.Join(session, room)
	}
	defer h.hub.Remove(session)

	utils.LogInfo("Viewer stream opened", map[string]interface{}{
		"session_id": session.ID.String(),
		"role":       roleStr,
		"rooms":      strings.Join(rooms, ","),
	})

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-session.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(env.Event.Type()), env)
			return true
		case <-clientGone:
			return false
		}
	})
}

func (h *StreamHandler) roomsForRole(c *gin.Context, role string) ([]string, error) {
	switch role {
	case "chef":
		rooms := []string{broadcast.RoomChef}
		stations, err := h.parseStations(c.Query("stations"))
		if err != nil {
			return nil, err
		}
		return append(rooms, stations...), nil
	case "staff":
		return []string{broadcast.RoomStaff}, nil
	case "manager":
		rooms := []string{broadcast.RoomManager}
		if extra := c.Query("rooms"); extra != "" {
			for _, room := range strings.Split(extra, ",") {
				room = strings.TrimSpace(room)
				if room != "" {
					rooms = append(rooms, room)
				}
			}
		}
		return rooms, nil
	case "customer":
		// Customers cannot choose a room; the token pins them to their table.
		tableNumber, _ := c.Get("tableNumber")
		tableStr, _ := tableNumber.(string)
		if tableStr == "" {
			return nil, nil
		}
		return []string{broadcast.TableRoom(tableStr)}, nil
	default:
		return nil, nil
	}
}

// parseStations validates a comma-separated station id list against the
// station registry and returns the matching room names.
func (h *StreamHandler) parseStations(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var rooms []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		stationID, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		if _, err := h.stationService.GetStationByID(stationID); err != nil {
			return nil, err
		}
		rooms = append(rooms, broadcast.StationRoom(stationID))
	}
	return rooms, nil
}
