// File: /controllers/transaction_controller.go
package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

type TransactionController struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewTransactionController(db *gorm.DB, logger *zap.Logger) *TransactionController {
	return &TransactionController{
		db:     db,
		logger: logger,
	}
}

func (tc *TransactionController) GetTransactions(c *gin.Context) {
	page := utils.ParsePage(c)
	query := tc.db.WithContext(c.Request.Context()).
		Model(&models.Transaction{}).
		Scopes(repositories.TransactionsOfTenant(tenantScope(c)))

	passengerID, present, ok := queryUint(c, "passenger")
	if !ok {
		return
	}
	if present {
		query = query.Where("transactions.passenger_id = ?", passengerID)
	}
	if roundBusID := c.Query("round_bus"); roundBusID != "" {
		query = query.Where("transactions.round_bus_id = ?", roundBusID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	var transactions []models.Transaction
	err := query.Scopes(page.Scope()).
		Order("transactions.check_in DESC, transactions.id DESC").
		Find(&transactions).Error
	if err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	utils.SendPaginated(c, transactions, page, total)
}

func (tc *TransactionController) GetTransaction(c *gin.Context) {
	transaction, ok := tc.load(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, transaction)
}

func (tc *TransactionController) CreateTransaction(c *gin.Context) {
	var req models.TransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := tc.check(c, &req); err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	transaction := models.Transaction{
		PassengerID: req.PassengerID,
		RoundBusID:  req.RoundBusID,
		CheckIn:     req.CheckIn,
		CheckOut:    req.CheckOut,
	}
	if err := tc.db.WithContext(c.Request.Context()).Omit(clause.Associations).Create(&transaction).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	utils.SendCreated(c, transaction)
}

func (tc *TransactionController) UpdateTransaction(c *gin.Context) {
	transaction, ok := tc.load(c)
	if !ok {
		return
	}

	var req models.TransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := tc.check(c, &req); err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	updates := map[string]interface{}{
		"passenger_id": req.PassengerID,
		"round_bus_id": req.RoundBusID,
		"check_in":     req.CheckIn,
		"check_out":    req.CheckOut,
	}
	if err := tc.db.WithContext(c.Request.Context()).Model(&models.Transaction{ID: transaction.ID}).Updates(updates).Error; err != nil {
		respondError(c, tc.logger, err, "Transaction not found")
		return
	}

	transaction.PassengerID = req.PassengerID
	transaction.RoundBusID = req.RoundBusID
	transaction.CheckIn = req.CheckIn
	transaction.CheckOut = req.CheckOut
	utils.SendSuccess(c, transaction)
}

func (tc *TransactionController) DeleteTransaction(c *gin.Context) {
	transaction, ok := tc.load(c)
	if !ok {
		return
	}

	if err := tc.db.WithContext(c.Request.Context()).Delete(&models.Transaction{}, transaction.ID).Error; err != nil {
		respondError(c, tc.logger, err, "Transaction not found")
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Transaction deleted successfully"})
}

// check validates the times and that the passenger rides a round of their
// own trip, both visible to the caller.
func (tc *TransactionController) check(c *gin.Context, req *models.TransactionRequest) error {
	if req.CheckOut != nil && req.CheckOut.Before(req.CheckIn) {
		return &services.ValidationError{Message: "check_out must not be before check_in"}
	}

	ctx := c.Request.Context()
	scope := tenantScope(c)

	var passenger models.Passenger
	err := tc.db.WithContext(ctx).
		Scopes(repositories.ByTripOfTenant("passengers", scope)).
		First(&passenger, req.PassengerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &services.ValidationError{Message: "passenger does not exist"}
	}
	if err != nil {
		return err
	}

	var rb models.RoundBus
	err = tc.db.WithContext(ctx).
		Scopes(repositories.RoundBusesOfTenant(scope)).
		Preload("Round").
		First(&rb, "round_buses.id = ?", req.RoundBusID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &services.ValidationError{Message: "round bus does not exist"}
	}
	if err != nil {
		return err
	}

	if rb.Round == nil || rb.Round.TripID != passenger.TripID {
		return &services.ValidationError{Message: "round bus belongs to another trip"}
	}
	return nil
}

func (tc *TransactionController) load(c *gin.Context) (*models.Transaction, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	var transaction models.Transaction
	err := tc.db.WithContext(c.Request.Context()).
		Scopes(repositories.TransactionsOfTenant(tenantScope(c))).
		First(&transaction, id).Error
	if err != nil {
		respondError(c, tc.logger, err, "Transaction not found")
		return nil, false
	}
	return &transaction, true
}
