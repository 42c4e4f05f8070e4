package mapapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
)

func TestNewEstablishment(t *testing.T) {
	t.Parallel()

	checkDate := time.Date(2024, time.March, 7, 15, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		record   establishment.Record
		source   string
		wantTags map[string]string
	}{
		"lightning only": {
			record: establishment.Record{Name: "Café", Lat: -23.5, Lon: -46.6, AcceptsLightning: true},
			wantTags: map[string]string{
				TagCurrencyXBT:      "yes",
				TagCheckDate:        "2024/03/07",
				TagSource:           DefaultSource,
				TagPaymentLightning: "yes",
			},
		},
		"onchain only keeps record value": {
			record: establishment.Record{Name: "Padaria", AcceptsOnchain: true},
			wantTags: map[string]string{
				TagCurrencyXBT:    "yes",
				TagCheckDate:      "2024/03/07",
				TagSource:         DefaultSource,
				TagPaymentOnchain: "yes",
			},
		},
		"neither payment method": {
			record: establishment.Record{Name: "Loja"},
			source: "custom",
			wantTags: map[string]string{
				TagCurrencyXBT: "yes",
				TagCheckDate:   "2024/03/07",
				TagSource:      "custom",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := NewEstablishment(tc.record, checkDate, tc.source)

			require.Equal(t, tc.record.Name, got.Name)
			require.Equal(t, tc.record.Lat, got.Lat)
			require.Equal(t, tc.record.Lon, got.Lon)
			require.Equal(t, tc.record.AcceptsOnchain, got.AcceptsOnchain)
			require.Equal(t, tc.wantTags, got.Tags)
		})
	}
}

func TestNewEstablishment_OptionalFields(t *testing.T) {
	t.Parallel()

	record := establishment.Record{
		Name:        "Bar",
		Address:     "Rua A, 1",
		Website:     "https://bar.example",
		Phone:       "+55 11 0000-0000",
		Description: "bar",
	}

	got := NewEstablishment(record, time.Now(), "")

	require.Equal(t, "Rua A, 1", got.Address)
	require.Equal(t, "https://bar.example", got.Website)
	require.Equal(t, "+55 11 0000-0000", got.Phone)
	require.Equal(t, "bar", got.Description)
}
