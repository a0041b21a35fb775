package services

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/models"
	"kds_backend/internal/repositories"
)

// --- Data Transfer Objects (DTOs) ---

// ReassignItemRequest moves a ticket item onto another station's queue.
type ReassignItemRequest struct {
	NewStationID int64 `json:"new_station_id" binding:"required"`
}

// StationQueueEntry is one ticket on a station's work queue.
type StationQueueEntry struct {
	ItemID              int64       `json:"item_id"`
	OrderID             int64       `json:"order_id"`
	TableNumber         string      `json:"table_number"`
	MenuItemName        string      `json:"menu_item_name"`
	Quantity            int         `json:"quantity"`
	SpecialInstructions *string     `json:"special_instructions,omitempty"`
	PrepStatus          string      `json:"prep_status"`
	PrepStartTime       *time.Time  `json:"prep_start_time,omitempty"`
	AssignedOperatorID  *int64      `json:"assigned_operator_id,omitempty"`
	OrderCreatedAt      time.Time   `json:"order_created_at"`
	WaitingFor          string      `json:"waiting_for"`
	Urgency             UrgencyTier `json:"urgency"`
}

// --- StationService Interface ---

// StationService covers station reads, the per-station work queue and
// manual reassignment of tickets between stations.
type StationService interface {
	GetStations(activeOnly bool) ([]models.Station, error)
	GetStationByID(stationID int64) (*models.Station, error)
	ViewQueue(stationID int64, now time.Time) ([]StationQueueEntry, error)
	ReassignItem(itemID int64, req ReassignItemRequest) (*models.TicketItem, error)
}

// --- stationService Implementation ---

type stationService struct {
	stationRepo repositories.StationRepository
	orderRepo   repositories.OrderRepository
	bus         EventPublisher
	txp         repositories.TxProvider
	escalation  EscalationThresholds
}

// NewStationService creates a new instance of StationService.
func NewStationService(
	sr repositories.StationRepository,
	or repositories.OrderRepository,
	bus EventPublisher,
	txp repositories.TxProvider,
	escalation EscalationThresholds,
) StationService {
	return &stationService{
		stationRepo: sr,
		orderRepo:   or,
		bus:         bus,
		txp:         txp,
		escalation:  escalation,
	}
}

// --- Method Implementations ---

func (s *stationService) GetStations(activeOnly bool) ([]models.Station, error) {
	stations, err := s.stationRepo.GetStations(activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get stations: %w", err)
	}
	return stations, nil
}

func (s *stationService) GetStationByID(stationID int64) (*models.Station, error) {
	station, err := s.stationRepo.GetStationByID(stationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("failed to get station by ID: %w", err)
	}
	return station, nil
}

func (s *stationService) ViewQueue(stationID int64, now time.Time) ([]StationQueueEntry, error) {
	if _, err := s.GetStationByID(stationID); err != nil {
		return nil, err
	}

	tickets, err := s.orderRepo.GetActiveTicketsByStation(stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket queue for station %d: %w", stationID, err)
	}

	queue := make([]StationQueueEntry, 0, len(tickets))
	for _, ticket := range tickets {
		entry := StationQueueEntry{
			ItemID:              ticket.ID,
			OrderID:             ticket.OrderID,
			TableNumber:         ticket.TableNumber,
			Quantity:            ticket.Quantity,
			SpecialInstructions: ticket.SpecialInstructions,
			PrepStatus:          ticket.PrepStatus,
			PrepStartTime:       ticket.PrepStartTime,
			AssignedOperatorID:  ticket.AssignedOperatorID,
			OrderCreatedAt:      ticket.OrderCreatedAt,
			WaitingFor:          now.Sub(ticket.OrderCreatedAt).Truncate(time.Second).String(),
			Urgency:             Urgency(ticket.OrderCreatedAt, now, s.escalation),
		}
		if ticket.MenuItem != nil {
			entry.MenuItemName = ticket.MenuItem.Name
		}
		queue = append(queue, entry)
	}

	// Most urgent first, oldest first within a tier.
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Urgency.Rank() != queue[j].Urgency.Rank() {
			return queue[i].Urgency.Rank() > queue[j].Urgency.Rank()
		}
		return queue[i].OrderCreatedAt.Before(queue[j].OrderCreatedAt)
	})

	return queue, nil
}

func (s *stationService) ReassignItem(itemID int64, req ReassignItemRequest) (*models.TicketItem, error) {
	ticket, err := s.orderRepo.GetTicketItemByID(itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket item by ID: %w", err)
	}
	if ticket.PrepStatus == PrepStatusReady {
		return nil, fmt.Errorf("%w: ticket %d is already ready", ErrInvalidPrepStatus, itemID)
	}
	if ticket.StationID == req.NewStationID {
		return nil, fmt.Errorf("%w: ticket %d is already on station %d", ErrValidation, itemID, req.NewStationID)
	}

	newStation, err := s.GetStationByID(req.NewStationID)
	if err != nil {
		return nil, err
	}
	if !newStation.IsActive {
		return nil, fmt.Errorf("%w: station %d is inactive", ErrStationNotFound, req.NewStationID)
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	swapped, err := s.orderRepo.UpdateTicketStation(tx, itemID, req.NewStationID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to reassign ticket %d: %w", itemID, err)
	}
	if !swapped {
		// The ticket went ready between our read and the update.
		return nil, &ConflictError{Entity: "ticket_item", ID: itemID, Expected: ticket.PrepStatus, Actual: PrepStatusReady}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reassignment for ticket %d: %w", itemID, err)
	}

	// Both stations hear about the move: one drops the ticket, one gains it.
	s.bus.Publish(broadcast.ItemReassigned{
		ItemID:       itemID,
		OldStationID: ticket.StationID,
		NewStationID: req.NewStationID,
	}, broadcast.StationRoom(ticket.StationID), broadcast.StationRoom(req.NewStationID), broadcast.RoomChef)

	return s.orderRepo.GetTicketItemByID(itemID)
}
