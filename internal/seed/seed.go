package seed

import (
	"errors"

	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	"gorm.io/gorm"
)

// defaultPlanID is fixed so every environment shares the same premium plan
// row and re-seeding stays idempotent.
const defaultPlanID = 1

// EnsureDefaultPlan inserts the built-in premium plan when no plan exists
// yet. Price in centavos.
func EnsureDefaultPlan(db *gorm.DB) error {
	var existing plandomain.Plan
	err := db.First(&existing, "id = ?", defaultPlanID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	plan := plandomain.Plan{
		ID:            defaultPlanID,
		Name:          "Premium Mensal",
		Price:         4990,
		Currency:      "BRL",
		Frequency:     1,
		FrequencyType: "months",
		Features:      plandomain.DefaultPlanFeatures(),
		IsActive:      true,
	}
	return db.Create(&plan).Error
}
