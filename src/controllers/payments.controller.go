package controllers

import (
	"esm/src/lib"
	"esm/src/payments"
	"esm/src/types"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const statusValidationError = "VALIDATION_ERROR"

func errorBody(e *payments.Error) gin.H {
	body := gin.H{
		"success": false,
		"code":    e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if e.Upstream != 0 {
		body["upstreamStatus"] = e.Upstream
	}
	return body
}

func validationError(err error) (gin.H, int) {
	return gin.H{
		"success": false,
		"code":    http.StatusBadRequest,
		"message": err.Error(),
		"status":  statusValidationError,
	}, http.StatusBadRequest
}

func bookingID(ctx *gin.Context) (uuid.UUID, error) {
	var params types.SimpleRequestParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(params.ID)
}

func failure(ctx *gin.Context, err error, fallback string) (gin.H, int) {
	e := payments.AsError(err, fallback)
	if e.Code >= http.StatusInternalServerError {
		lib.WithComponent("http").Error().Err(err).Str("path", ctx.FullPath()).Msg("payment request failed")
	}
	return errorBody(e), e.Code
}

func PaymentsInitiateKhalti(ctx *gin.Context, svc *payments.Service) (gin.H, int) {
	id, err := bookingID(ctx)
	if err != nil {
		return validationError(err)
	}
	res, err := svc.InitiatePayment(ctx.Request.Context(), id, ctx.GetUint("id"))
	if err != nil {
		return failure(ctx, err, payments.StatusInitiationError)
	}
	body := gin.H{
		"success":       true,
		"paymentUrl":    res.PaymentURL,
		"pidx":          res.Pidx,
		"transactionId": res.TransactionID,
		"message":       "Khalti payment initiated",
	}
	if res.ExpiresAt != nil {
		body["expiresAt"] = res.ExpiresAt
	}
	return body, http.StatusOK
}

// PaymentsVerify answers 200 for every outcome; callers read "success".
func PaymentsVerify(ctx *gin.Context, svc *payments.Service) (body gin.H, status int) {
	defer func() {
		if r := recover(); r != nil {
			lib.WithComponent("http").Error().Interface("panic", r).Msg("payment verification panicked")
			body, status = verificationError(), http.StatusOK
		}
	}()

	var req types.VerifyPaymentRequestBody
	if err := ctx.ShouldBindJSON(&req); err != nil {
		req.Pidx = ""
	}
	res, err := svc.VerifyPayment(ctx.Request.Context(), req.Pidx)
	if err != nil {
		lib.WithComponent("http").Error().Err(err).Str("pidx", req.Pidx).Msg("payment verification error")
		return verificationError(), http.StatusOK
	}
	body = gin.H{
		"success": res.Success,
		"message": res.Message,
	}
	if res.Status != "" {
		body["status"] = res.Status
	}
	if res.Transaction != nil {
		body["transaction"] = res.Transaction
	}
	if res.GatewayStatus != "" {
		body["gatewayStatus"] = res.GatewayStatus
	}
	return body, http.StatusOK
}

func verificationError() gin.H {
	return gin.H{
		"success": false,
		"status":  payments.StatusVerificationError,
		"message": "payment verification could not be completed, please retry",
	}
}

func PaymentsGetStatus(ctx *gin.Context, svc *payments.Service) (gin.H, int) {
	id, err := bookingID(ctx)
	if err != nil {
		return validationError(err)
	}
	res, err := svc.GetPaymentStatus(ctx.Request.Context(), id, ctx.GetUint("id"))
	if err != nil {
		return failure(ctx, err, payments.StatusReadError)
	}
	return gin.H{"success": true, "data": res}, http.StatusOK
}

func PaymentsUpdateStatus(ctx *gin.Context, svc *payments.Service) (gin.H, int) {
	id, err := bookingID(ctx)
	if err != nil {
		return validationError(err)
	}
	var body types.UpdatePaymentStatusRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		return validationError(err)
	}
	actor := payments.Actor{ID: ctx.GetUint("id"), Role: types.Role(ctx.GetString("role"))}
	res, err := svc.UpdatePaymentStatus(ctx.Request.Context(), id, actor, payments.StatusUpdate{
		Status:     body.Status,
		Pidx:       body.Pidx,
		VerifiedAt: body.VerifiedAt,
		Reason:     body.Reason,
	})
	if err != nil {
		return failure(ctx, err, payments.StatusUpdateError)
	}
	return gin.H{"success": true, "data": res, "message": "payment status updated"}, http.StatusOK
}

func PaymentsHistory(ctx *gin.Context, svc *payments.Service) (gin.H, int) {
	var q types.PaymentHistoryQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		return validationError(err)
	}
	ownerID := ctx.GetUint("id")
	role := types.Role(ctx.GetString("role"))
	if q.OwnerID != 0 {
		if role != types.ROLE_ADMIN {
			return errorBody(&payments.Error{Code: http.StatusForbidden, Status: payments.StatusInvalidRole, Message: "only admins can read another owner's history"}), http.StatusForbidden
		}
		ownerID, role = q.OwnerID, types.Role(q.Role)
	}
	entries, err := svc.GetPaymentHistory(ctx.Request.Context(), ownerID, role)
	if err != nil {
		return failure(ctx, err, payments.StatusHistoryError)
	}
	return gin.H{"success": true, "data": entries, "count": len(entries)}, http.StatusOK
}
