package linksession

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/MeadeCPA-Ocrolus/banklink/config"
	clientrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/client"
	itemrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/linktoken"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/utils"
)

// Register registers link session routes
func Register(g *echo.Group) {
	g.POST("", Create)
}

// Create opens a hosted linking session and records the issued token
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "linksession_handler.Create")
	defer span.End()

	req, err := utils.BindRequest[models.CreateLinkSessionRequest](c)
	if err != nil {
		return err
	}

	ctx, clients, err := ectoinject.GetContext[*clientrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	cl, err := clients.GetByID(ctx, req.ClientID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get client")
	}
	if cl == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "client not found")
	}

	ctx, cfg, err := ectoinject.GetContext[config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get config")
	}

	sctx := provider.SessionContext{
		ClientID:    req.ClientID,
		WebhookURL:  cfg.ProviderWebhookURL,
		RedirectURL: cfg.ProviderRedirectURL,
	}
	if req.UpdateItemID != "" {
		ctx2, items, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
		}
		ctx = ctx2

		it, err := items.GetByID(ctx, req.UpdateItemID)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get item")
		}
		if it == nil || it.IsArchived {
			return httperror.NewHTTPError(http.StatusNotFound, "item to update not found")
		}
		if it.ClientID != req.ClientID {
			return httperror.NewHTTPError(http.StatusForbidden, "item belongs to a different client")
		}
		if it.ExternalItemID != nil {
			sctx.UpdateExternalItemID = *it.ExternalItemID
		}
	}

	ctx, providerClient, err := ectoinject.GetContext[provider.Client](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get provider client")
	}

	session, err := providerClient.CreateLinkSession(ctx, sctx)
	if err != nil {
		return httperror.WrapError(http.StatusBadGateway, err)
	}

	ctx, tokens, err := ectoinject.GetContext[*linktoken.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	hostedURL := session.HostedURL
	if _, err := tokens.Create(ctx, linktoken.CreateRequest{
		Token:     session.SessionToken,
		ClientID:  req.ClientID,
		HostedURL: &hostedURL,
		ExpiresAt: session.ExpiresAt,
	}); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record link token")
	}

	return c.JSON(http.StatusCreated, models.LinkSessionResponse{
		Token:     session.SessionToken,
		HostedURL: session.HostedURL,
		ExpiresAt: session.ExpiresAt,
	})
}
