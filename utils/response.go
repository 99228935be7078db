// File: /utils/response.go
package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tourops-api/models"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type PaginatedResponse struct {
	Data       interface{}       `json:"data"`
	Pagination models.Pagination `json:"pagination"`
}

func SendError(c *gin.Context, status int, err string) {
	c.JSON(status, ErrorResponse{
		Error: err,
		Code:  status,
	})
}

func SendErrorMessage(c *gin.Context, status int, err string, message string) {
	c.JSON(status, ErrorResponse{
		Error:   err,
		Message: message,
		Code:    status,
	})
}

func SendValidationError(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Message: err,
		Code:    http.StatusBadRequest,
	})
}

func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

func SendPaginated(c *gin.Context, data interface{}, page Page, total int64) {
	c.JSON(http.StatusOK, NewPaginatedResponse(data, page, total))
}

func NewPaginatedResponse(data interface{}, page Page, total int64) PaginatedResponse {
	totalPages := int((total + int64(page.Limit) - 1) / int64(page.Limit))

	return PaginatedResponse{
		Data: data,
		Pagination: models.Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			TotalPage:  totalPages,
			TotalItems: total,
		},
	}
}
