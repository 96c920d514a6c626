package pipeline

import (
	"strconv"
	"strings"

	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/services"
)

const (
	// FallbackSellerName is shown when the profile has neither a full name nor a username.
	FallbackSellerName = "Verified Seller"

	fallbackLogoURL = "https://showcase.bobarin.com/logo.png"
)

// Assemble builds the composition input from a listing, its seller and the
// generated copy. It is pure: the same inputs always give the same props.
func Assemble(listing *models.Listing, seller *models.Profile, desc services.Descriptions, logoURL string) models.VideoProps {
	images := make([]string, 0, len(listing.Images))
	for _, img := range listing.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	specs := listing.Specifications
	return models.VideoProps{
		Title:               listing.Title,
		Description:         desc.Short,
		DetailedDescription: desc.Detailed,
		Images:              images,
		Specifications: models.VideoSpecifications{
			Category:  nonEmpty(listing.ResolvedCategory()),
			Condition: nonEmpty(specs.Condition),
			Weight:    formatWeight(specs.Weight),
			Purity:    nonEmpty(specs.Purity),
			Year:      nonEmpty(specs.Year),
		},
		SellerName: SellerName(seller),
		LogoURL:    logoURL,
	}
}

// SellerName picks full name, then username, then FallbackSellerName.
func SellerName(p *models.Profile) string {
	if p == nil {
		return FallbackSellerName
	}
	if name := nonEmpty(p.FullName); name != nil {
		return *name
	}
	if name := nonEmpty(p.Username); name != nil {
		return *name
	}
	return FallbackSellerName
}

// LogoURL returns the absolute logo location for the composition.
func LogoURL(appURL string) string {
	appURL = strings.TrimRight(strings.TrimSpace(appURL), "/")
	if appURL == "" {
		return fallbackLogoURL
	}
	return appURL + "/logo.png"
}

func formatWeight(w *float64) *string {
	if w == nil {
		return nil
	}
	s := strconv.FormatFloat(*w, 'f', -1, 64) + " oz"
	return &s
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
