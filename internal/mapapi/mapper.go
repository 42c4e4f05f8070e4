package mapapi

import (
	"time"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
)

// NewEstablishment converts a local record to its map payload.
// checkDate is the day the Bitcoin acceptance was verified.
func NewEstablishment(record establishment.Record, checkDate time.Time, source string) *Establishment {
	if source == "" {
		source = DefaultSource
	}

	tags := map[string]string{
		TagCurrencyXBT: "yes",
		TagCheckDate:   checkDate.Format(CheckDateLayout),
		TagSource:      source,
	}
	if record.AcceptsLightning {
		tags[TagPaymentLightning] = "yes"
	}
	if record.AcceptsOnchain {
		tags[TagPaymentOnchain] = "yes"
	}

	return &Establishment{
		AcceptsLightning: record.AcceptsLightning,
		AcceptsOnchain:   record.AcceptsOnchain,
		Address:          record.Address,
		Description:      record.Description,
		Lat:              record.Lat,
		Lon:              record.Lon,
		Name:             record.Name,
		Phone:            record.Phone,
		Tags:             tags,
		Website:          record.Website,
	}
}
