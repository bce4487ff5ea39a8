package main

import (
	"esm/src/controllers"
	"esm/src/middlewares"
	"esm/src/payments"
	"esm/src/types"

	"github.com/gin-gonic/gin"
)

func paymentHandlers(g *gin.RouterGroup, svc *payments.Service) *gin.RouterGroup {
	g.
		POST("/bookings/:id/init-khalti", func(ctx *gin.Context) {
			body, status := controllers.PaymentsInitiateKhalti(ctx, svc)
			ctx.JSON(status, body)
		}).
		POST("/payments/verify", func(ctx *gin.Context) {
			body, status := controllers.PaymentsVerify(ctx, svc)
			ctx.JSON(status, body)
		}).
		GET("/bookings/:id/payment-status", func(ctx *gin.Context) {
			body, status := controllers.PaymentsGetStatus(ctx, svc)
			ctx.JSON(status, body)
		}).
		PATCH("/bookings/:id/payment-status", middlewares.RequireRole(types.ROLE_ADMIN), func(ctx *gin.Context) {
			body, status := controllers.PaymentsUpdateStatus(ctx, svc)
			ctx.JSON(status, body)
		}).
		GET("/payments/history", func(ctx *gin.Context) {
			body, status := controllers.PaymentsHistory(ctx, svc)
			ctx.JSON(status, body)
		})
	return g
}
