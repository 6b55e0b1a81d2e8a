package controllers

import (
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
)

// GatewayLister reports the registered gateway names.
type GatewayLister interface {
	Available() []string
}

// PaymentController exposes the billing services as a JSON API.
type PaymentController struct {
	services *billing.Services
	gateways GatewayLister
	timeout  time.Duration
}

func NewPaymentController(services *billing.Services, gateways GatewayLister, timeout time.Duration) *PaymentController {
	return &PaymentController{services: services, gateways: gateways, timeout: timeout}
}

type createCustomerBody struct {
	UserID   uint              `json:"user_id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Gateway  string            `json:"gateway"`
	Metadata map[string]string `json:"metadata"`
}

type createCardBody struct {
	Token        string `json:"token"`
	SetAsDefault bool   `json:"set_as_default"`
}

type createPlanBody struct {
	Gateway string `json:"gateway"`
	billing.CreatePlanInput
}

type createSubscriptionBody struct {
	CustomerID uint              `json:"customer_id"`
	PlanID     uint              `json:"plan_id"`
	Metadata   map[string]string `json:"metadata"`
}

type updateSubscriptionBody struct {
	Cancel   bool              `json:"cancel"`
	PlanID   uint              `json:"plan_id"`
	Metadata map[string]string `json:"metadata"`
}

type createPaymentLinkBody struct {
	Gateway string `json:"gateway"`
	billing.CreatePaymentLinkInput
}

// HandleListGateways returns the configured gateway names.
func (p *PaymentController) HandleListGateways(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"gateways": p.gateways.Available()})
}

func (p *PaymentController) HandleCreateCustomer(c *fiber.Ctx) error {
	var body createCustomerBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	customer, err := p.services.Customers.CreateCustomer(ctx, billing.User{ID: body.UserID, Email: body.Email, Name: body.Name}, body.Gateway, body.Metadata)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(customer)
}

func (p *PaymentController) HandleGetCustomer(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid customer id")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	customer, err := p.services.Customers.GetCustomerByID(ctx, id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(customer)
}

func (p *PaymentController) HandleUpdateCustomer(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid customer id")
	}
	var body billing.UpdateCustomerInput
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	customer, err := p.services.Customers.UpdateCustomer(ctx, id, body)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(customer)
}

func (p *PaymentController) HandleCreateCard(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid customer id")
	}
	var body createCardBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	card, err := p.services.Cards.CreateCard(ctx, id, body.Token, body.SetAsDefault)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(card)
}

func (p *PaymentController) HandleListCards(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid customer id")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	cards, err := p.services.Cards.ListCards(ctx, id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"cards": cards})
}

func (p *PaymentController) HandleSetDefaultCard(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid card id")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	card, err := p.services.Cards.SetAsDefault(ctx, id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(card)
}

func (p *PaymentController) HandleDeleteCard(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid card id")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	if err := p.services.Cards.DeleteCard(ctx, id); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (p *PaymentController) HandleCreatePlan(c *fiber.Ctx) error {
	var body createPlanBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	plan, err := p.services.Plans.CreatePlan(ctx, body.Gateway, body.CreatePlanInput)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

func (p *PaymentController) HandleUpdatePlan(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid plan id")
	}
	var body billing.UpdatePlanInput
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	plan, err := p.services.Plans.UpdatePlan(ctx, id, body)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(plan)
}

// HandleListPlans returns active plans, optionally for ?gateway= only.
func (p *PaymentController) HandleListPlans(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	plans, err := p.services.Plans.GetActivePlans(ctx, c.Query("gateway"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (p *PaymentController) HandleCreateSubscription(c *fiber.Ctx) error {
	var body createSubscriptionBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	sub, err := p.services.Subscriptions.CreateSubscription(ctx, body.CustomerID, body.PlanID, body.Metadata)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (p *PaymentController) HandleUpdateSubscription(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid subscription id")
	}
	var body updateSubscriptionBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	in := billing.UpdateSubscriptionInput{Cancel: body.Cancel, Metadata: body.Metadata}
	if body.PlanID != 0 && !body.Cancel {
		plan, err := p.services.Plans.GetPlan(ctx, body.PlanID)
		if err != nil {
			return errorResponse(c, err)
		}
		in.NewPlan = plan
	}

	sub, err := p.services.Subscriptions.UpdateSubscription(ctx, id, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sub)
}

func (p *PaymentController) HandleCancelSubscription(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid subscription id")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	sub, err := p.services.Subscriptions.CancelSubscription(ctx, id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sub)
}

func (p *PaymentController) HandleCreatePaymentLink(c *fiber.Ctx) error {
	var body createPaymentLinkBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	link, err := p.services.PaymentLinks.CreatePaymentLink(ctx, body.Gateway, body.CreatePaymentLinkInput)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

func (p *PaymentController) HandleListPaymentLinks(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, p.timeout)
	defer cancel()

	links, err := p.services.PaymentLinks.GetActiveLinks(ctx, c.Query("gateway"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"payment_links": links})
}
