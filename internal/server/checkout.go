package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hireloop/hireloop/internal/catalog"
	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
)

type creditPackageResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Credits  int64  `json:"credits"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ListPackages returns the purchasable credit packages. The endpoint is
// public so pricing pages can render without a session.
func (s *Server) ListPackages(c *gin.Context) {
	pkgs := catalog.All()
	out := make([]creditPackageResponse, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, creditPackageResponse{
			ID:       pkg.ID,
			Name:     pkg.Name,
			Credits:  pkg.Credits,
			Amount:   pkg.Amount,
			Currency: pkg.Currency,
		})
	}
	c.JSON(http.StatusOK, gin.H{"packages": out})
}

type createCheckoutSessionRequest struct {
	PackageType string `json:"package_type"`
	Provider    string `json:"provider"`
	ReturnURL   string `json:"return_url"`
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = s.cfg.StripeSuccessURL
	}

	resp, err := s.checkoutSvc.CreateSession(c.Request.Context(), checkoutdomain.CreateSessionRequest{
		UserID:      s.currentUserID(c),
		PackageType: req.PackageType,
		Provider:    req.Provider,
		ReturnURL:   returnURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
