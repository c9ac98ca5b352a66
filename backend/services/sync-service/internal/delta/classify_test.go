package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wattmint/backend/services/sync-service/internal/models"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"123", "main", "street", "apt"}, Tokenize("123 Main Street, Apt. 4"))
	assert.Empty(t, Tokenize("a, bc"))
}

func TestClassifyLocation(t *testing.T) {
	cases := []struct {
		name     string
		location string
		home     string
		want     models.Classification
	}{
		{"garage near home", "123 Main St Garage", "123 Main Street", models.ClassificationHome},
		{"supercharger", "Supercharger – Highway 10", "123 Main Street", models.ClassificationPublic},
		{"exact address", "123 Main Street", "123 main street", models.ClassificationHome},
		{"location inside address", "Main Street", "123 Main Street, Springfield", models.ClassificationHome},
		{"single shared token", "Main Mall Parking", "123 Main Street", models.ClassificationPublic},
		{"empty home", "123 Main St", "", models.ClassificationPublic},
		{"empty location", "", "123 Main Street", models.ClassificationPublic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLocation(tc.location, tc.home))
		})
	}
}

func TestClassifyLocationDeterministic(t *testing.T) {
	first := ClassifyLocation("Walmart Supercenter 55 Oak Rd", "55 Oak Road Springfield")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ClassifyLocation("Walmart Supercenter 55 Oak Rd", "55 Oak Road Springfield"))
	}
}

func TestClassifySessionBillingSignal(t *testing.T) {
	home := "123 Main Street"

	free := models.ChargingSession{Location: "Unknown", Fee: 0, SessionType: "AC"}
	assert.Equal(t, models.ClassificationHome, ClassifySession(free, home))

	freeFast := models.ChargingSession{Location: "Unknown", Fee: 0, SessionType: "DC Fast"}
	assert.Equal(t, models.ClassificationPublic, ClassifySession(freeFast, home))

	paid := models.ChargingSession{Location: "Supercharger – Highway 10", Fee: 12.4, SessionType: "Supercharger"}
	assert.Equal(t, models.ClassificationPublic, ClassifySession(paid, home))

	paidAtHome := models.ChargingSession{Location: "123 Main St Garage", Fee: 3.1}
	assert.Equal(t, models.ClassificationHome, ClassifySession(paidAtHome, home))
}
