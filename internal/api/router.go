package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/handlers"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/service"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

func NewRouter(repo interfaces.DepositStateRepository, svc *service.DepositService, publisher handlers.Publisher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "deposit-reconciler"})
	})

	// Deposit routes
	depositHandler := handlers.NewDepositHandler(repo, svc)
	r.POST("/deposits", depositHandler.InitiateDeposit)
	r.GET("/deposits/:id", depositHandler.GetDepositState)
	r.DELETE("/deposits/:id", depositHandler.CancelDeposit)

	// Provider webhook ingress
	callbackHandler := handlers.NewCallbackHandler(publisher)
	r.POST("/mpesa/callback", callbackHandler.HandleStkCallback)

	return r
}
