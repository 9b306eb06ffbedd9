package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/handler/middleware"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/service"
)

// OrderHandler обрабатывает запросы заказов.
type OrderHandler struct {
	orders       service.OrderService
	payments     service.PaymentService
	orchestrator *saga.Orchestrator
}

// NewOrderHandler создаёт обработчик заказов.
// orchestrator нужен для createPayment=true: заказ и платёж создаются платёжной сагой.
func NewOrderHandler(orders service.OrderService, payments service.PaymentService, orchestrator *saga.Orchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments, orchestrator: orchestrator}
}

// createOrderItemRequest — позиция заказа в запросе.
type createOrderItemRequest struct {
	ProductID   string       `json:"productId" binding:"required"`
	ProductName string       `json:"productName"`
	Quantity    int64        `json:"quantity" binding:"required,gt=0"`
	UnitPrice   domain.Money `json:"unitPrice" binding:"required"`
}

// createOrderRequest — запрос создания заказа.
type createOrderRequest struct {
	UserID        string                   `json:"userId" binding:"required"`
	Currency      string                   `json:"currency" binding:"required"`
	Items         []createOrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Metadata      map[string]any           `json:"metadata"`
	CreatePayment bool                     `json:"createPayment"`
}

// lineItems конвертирует позиции запроса в доменные.
func (r *createOrderRequest) lineItems() []domain.LineItem {
	items := make([]domain.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.LineItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return items
}

// createOrderSagaResponse — результат создания заказа с платежом через сагу.
type createOrderSagaResponse struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	SagaID    string `json:"sagaId"`
}

// Create обрабатывает POST /api/v1/orders.
// При createPayment=true заказ и платёж создаются платёжной сагой.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	ctx := c.Request.Context()

	if !req.CreatePayment {
		order, err := h.orders.CreateOrder(ctx, req.UserID, domain.Currency(req.Currency), req.lineItems(), req.Metadata)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusCreated, toOrderResponse(order))
		return
	}

	sagaCtx, err := service.NewPaymentSagaContext(service.PaymentSagaInput{
		UserID:   req.UserID,
		Currency: domain.Currency(req.Currency),
		Items:    req.lineItems(),
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// Ключ идемпотентности служит бизнес-ключом саги: повтор запроса
	// не породит второй экземпляр
	correlationID := c.GetHeader(middleware.HeaderIdempotencyKey)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	inst, err := h.orchestrator.Run(ctx, service.PaymentSagaName, correlationID, sagaCtx)
	if err != nil {
		respondError(c, translateSagaErr(err, inst))
		return
	}

	orderID, _ := service.PaymentSagaOrderID(inst.Context)
	paymentID, _ := service.PaymentSagaPaymentID(inst.Context)

	respond(c, http.StatusCreated, createOrderSagaResponse{
		OrderID:   orderID,
		PaymentID: paymentID,
		SagaID:    inst.ID,
	})
}

// translateSagaErr сводит исходы саги к доменным ошибкам.
func translateSagaErr(err error, inst *saga.Instance) error {
	switch {
	case errors.Is(err, saga.ErrDuplicateCorrelation):
		return domain.ErrOrderAlreadyProcessed.
			WithMessage("заказ с этим ключом уже обрабатывается").
			WithCause(err)
	case errors.Is(err, saga.ErrCompensated):
		reason := "шаг саги завершился ошибкой"
		if inst != nil && inst.FailureReason != nil {
			reason = *inst.FailureReason
		}
		return domain.ErrInternal.
			WithMessage("создание заказа откатилось: %s", reason).
			WithCause(err)
	case errors.Is(err, saga.ErrCompensationFailed):
		return domain.ErrInternal.
			WithMessage("создание заказа не удалось, требуется ручное вмешательство").
			WithCause(err)
	default:
		return err
	}
}

// Get обрабатывает GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toOrderResponse(order))
}

// listOrdersQuery — параметры выборки GET /api/v1/orders.
type listOrdersQuery struct {
	UserID string `form:"userId"`
	Limit  int    `form:"limit,default=20" binding:"min=0"`
	Offset int    `form:"offset,default=0" binding:"min=0"`
}

// List обрабатывает GET /api/v1/orders.
func (h *OrderHandler) List(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, domain.ErrValidation.
			WithMessage("некорректные параметры пагинации").
			WithCause(err))
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), q.UserID, q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}

	respond(c, http.StatusOK, out)
}

// GetPayment обрабатывает GET /api/v1/orders/:id/payment.
func (h *OrderHandler) GetPayment(c *gin.Context) {
	payment, err := h.payments.GetPaymentByOrderID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toPaymentResponse(payment))
}
