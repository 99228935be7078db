// File: /controllers/passenger_controller.go
package controllers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

const passengerEntity = "passenger"

type PassengerController struct {
	db       *gorm.DB
	cache    *services.CacheService
	notifier services.Notifier
	logger   *zap.Logger
}

func NewPassengerController(db *gorm.DB, cache *services.CacheService, notifier services.Notifier, logger *zap.Logger) *PassengerController {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	return &PassengerController{
		db:       db,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
	}
}

func (pc *PassengerController) GetPassengers(c *gin.Context) {
	page := utils.ParsePage(c)
	query := pc.db.WithContext(c.Request.Context()).
		Model(&models.Passenger{}).
		Scopes(repositories.ByTripOfTenant("passengers", tenantScope(c)))

	tripID, present, ok := queryUint(c, "trip")
	if !ok {
		return
	}
	if present {
		query = query.Where("passengers.trip_id = ?", tripID)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("passengers.name LIKE ? OR passengers.phone LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, pc.logger, err, "")
		return
	}

	var passengers []models.Passenger
	err := query.Preload("Assignments").Preload("Transfer").
		Scopes(page.Scope()).
		Order("passengers.trip_id ASC, passengers.name ASC").
		Find(&passengers).Error
	if err != nil {
		respondError(c, pc.logger, err, "")
		return
	}

	utils.SendPaginated(c, passengers, page, total)
}

func (pc *PassengerController) GetPassenger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var passenger models.Passenger
	err := pc.db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("passengers", tenantScope(c))).
		Preload("Assignments.TripBus").
		Preload("Transfer").
		First(&passenger, id).Error
	if err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return
	}

	utils.SendSuccess(c, passenger)
}

func (pc *PassengerController) CreatePassenger(c *gin.Context) {
	var req models.PassengerRequest
	if !bindJSON(c, &req) {
		return
	}

	trip, err := loadTrip(c, pc.db, req.TripID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendValidationError(c, "trip does not exist")
			return
		}
		respondError(c, pc.logger, err, "")
		return
	}

	var passenger models.Passenger
	if err := copier.Copy(&passenger, &req); err != nil {
		respondError(c, pc.logger, err, "")
		return
	}
	passenger.TripID = trip.ID

	if err := pc.db.WithContext(c.Request.Context()).Omit(clause.Associations).Create(&passenger).Error; err != nil {
		respondError(c, pc.logger, err, "")
		return
	}

	pc.cache.InvalidateScope(c.Request.Context(), dashboardCacheEntity, trip.TenantID)
	utils.SendCreated(c, passenger)
}

func (pc *PassengerController) UpdatePassenger(c *gin.Context) {
	passenger, ok := pc.load(c)
	if !ok {
		return
	}

	var req models.PassengerRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TripID != passenger.TripID {
		utils.SendValidationError(c, "a passenger cannot be moved to another trip")
		return
	}

	updates := map[string]interface{}{
		"name":  req.Name,
		"phone": req.Phone,
		"note":  req.Note,
	}
	if err := pc.db.WithContext(c.Request.Context()).Model(&models.Passenger{ID: passenger.ID}).Updates(updates).Error; err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return
	}

	passenger.Name, passenger.Phone, passenger.Note = req.Name, req.Phone, req.Note
	passenger.Trip = nil
	utils.SendSuccess(c, passenger)
}

func (pc *PassengerController) DeletePassenger(c *gin.Context) {
	passenger, ok := pc.load(c)
	if !ok {
		return
	}

	err := pc.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("passenger_id = ?", passenger.ID).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("passenger_id = ?", passenger.ID).Delete(&models.PassengerTransfer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("passenger_id = ?", passenger.ID).Delete(&models.PassengerBusAssignment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Passenger{}, passenger.ID).Error
	})
	if err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return
	}

	pc.cache.InvalidateScope(c.Request.Context(), dashboardCacheEntity, passenger.Trip.TenantID)
	utils.SendSuccess(c, gin.H{"message": "Passenger deleted successfully"})
}

// AssignBus places the passenger on a bus of their trip, replacing any
// previous assignment for that trip.
func (pc *PassengerController) AssignBus(c *gin.Context) {
	passenger, ok := pc.load(c)
	if !ok {
		return
	}

	var req models.AssignPassengerRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if err := checkTripBus(c, pc.db, passenger.TripID, req.TripBusID); err != nil {
		respondError(c, pc.logger, err, "")
		return
	}

	var assignment models.PassengerBusAssignment
	var previous *uint
	err := pc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		assignment, previous, err = upsertAssignment(tx, passenger, req.TripBusID)
		return err
	})
	if err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return
	}

	event := services.NewEvent(passengerEntity, fmt.Sprint(passenger.ID), passenger.Trip.TenantID, "assigned")
	event.Before = map[string]interface{}{"trip_bus_id": previous}
	event.After = map[string]interface{}{"trip_bus_id": assignment.TripBusID, "trip_id": passenger.TripID}
	pc.notifier.Notify(ctx, event)

	pc.cache.InvalidateScope(ctx, dashboardCacheEntity, passenger.Trip.TenantID)
	utils.SendSuccess(c, assignment)
}

// Transfer moves the passenger to another bus of the trip and records where
// they came from. A passenger has at most one transfer record.
func (pc *PassengerController) Transfer(c *gin.Context) {
	passenger, ok := pc.load(c)
	if !ok {
		return
	}

	var req models.TransferPassengerRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if err := checkTripBus(c, pc.db, passenger.TripID, req.ToTripBusID); err != nil {
		respondError(c, pc.logger, err, "")
		return
	}

	var transfer models.PassengerTransfer
	err := pc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, previous, err := upsertAssignment(tx, passenger, req.ToTripBusID)
		if err != nil {
			return err
		}
		if previous != nil && *previous == req.ToTripBusID {
			return &services.ValidationError{Message: "passenger is already on that bus"}
		}

		transfer = models.PassengerTransfer{
			PassengerID:   passenger.ID,
			FromTripBusID: previous,
			ToTripBusID:   req.ToTripBusID,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "passenger_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"from_trip_bus_id", "to_trip_bus_id", "updated_at"}),
		}).Create(&transfer).Error
	})
	if err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return
	}

	event := services.NewEvent(passengerEntity, fmt.Sprint(passenger.ID), passenger.Trip.TenantID, "transferred")
	event.Before = map[string]interface{}{"trip_bus_id": transfer.FromTripBusID}
	event.After = map[string]interface{}{"trip_bus_id": transfer.ToTripBusID, "trip_id": passenger.TripID}
	pc.notifier.Notify(ctx, event)

	pc.cache.InvalidateScope(ctx, dashboardCacheEntity, passenger.Trip.TenantID)
	utils.SendSuccess(c, transfer)
}

// upsertAssignment points the passenger's assignment for their trip at
// tripBusID and returns the trip bus it pointed at before, if any.
func upsertAssignment(tx *gorm.DB, passenger *models.Passenger, tripBusID uint) (models.PassengerBusAssignment, *uint, error) {
	var assignment models.PassengerBusAssignment
	err := tx.Where("passenger_id = ? AND trip_id = ?", passenger.ID, passenger.TripID).First(&assignment).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		assignment = models.PassengerBusAssignment{
			PassengerID: passenger.ID,
			TripID:      passenger.TripID,
			TripBusID:   tripBusID,
		}
		return assignment, nil, tx.Omit(clause.Associations).Create(&assignment).Error
	case err != nil:
		return assignment, nil, err
	}

	previous := assignment.TripBusID
	if previous != tripBusID {
		if err := tx.Model(&assignment).Update("trip_bus_id", tripBusID).Error; err != nil {
			return assignment, nil, err
		}
		assignment.TripBusID = tripBusID
	}
	return assignment, &previous, nil
}

func (pc *PassengerController) load(c *gin.Context) (*models.Passenger, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	var passenger models.Passenger
	err := pc.db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("passengers", tenantScope(c))).
		Preload("Trip").
		First(&passenger, id).Error
	if err != nil {
		respondError(c, pc.logger, err, "Passenger not found")
		return nil, false
	}
	return &passenger, true
}
