package sandbox

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/MeadeCPA-Ocrolus/banklink/config"
	itemrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/utils"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/vault"
)

// Register registers sandbox routes
func Register(g *echo.Group) {
	g.POST("/items/:id/fire-webhook", FireWebhook)
}

// FireWebhookRequest names the provider event code to simulate.
type FireWebhookRequest struct {
	Code string `json:"code" validate:"required"`
}

// FireWebhook asks the provider to deliver a test event for an item. Refused
// outright in production.
func FireWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "sandbox_handler.FireWebhook")
	defer span.End()

	ctx, cfg, err := ectoinject.GetContext[config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get config")
	}
	if cfg.IsProduction() {
		return httperror.NewHTTPError(http.StatusForbidden, "sandbox routes are disabled in production")
	}

	req, err := utils.BindRequest[FireWebhookRequest](c)
	if err != nil {
		return err
	}

	ctx, items, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	it, err := items.GetByID(ctx, c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get item")
	}
	if it == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "item not found")
	}

	ctx, gateway, err := ectoinject.GetContext[*vault.Gateway](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get vault")
	}

	plaintext, err := gateway.Decrypt(ctx, it.EncryptedCredential, it.CredentialKeyID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to decrypt credential")
	}

	ctx, providerClient, err := ectoinject.GetContext[provider.Client](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get provider client")
	}

	if err := providerClient.FireTestWebhook(ctx, provider.Credential(plaintext), req.Code); err != nil {
		return httperror.WrapError(http.StatusBadGateway, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "fired", "code": req.Code})
}
