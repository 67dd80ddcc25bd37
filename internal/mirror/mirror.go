package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gate-controller/internal/domain/gate"
)

// GateLog is the mirrored decision row. The image path column holds the
// uploaded snapshot URL rather than the local path, so remote readers can
// fetch the image.
type GateLog struct {
	ID           string    `gorm:"primaryKey"`
	DecidedAt    time.Time `gorm:"not null;index"`
	Reason       string    `gorm:"not null"`
	RawPlate     string    `gorm:"not null"`
	Score        int       `gorm:"not null"`
	MatchedPlate *string
	OwnerName    *string
	VehicleMake  *string
	VehicleModel *string
	Colour       *string
	FuzzyMatch   bool `gorm:"not null"`
	GateOpened   bool `gorm:"not null"`
	ImagePath    *string
	RawPayload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

func (GateLog) TableName() string { return "gate_log" }

// Sink appends decision records to the remote database, best effort.
// Failures are logged and counted by the caller; they never affect the
// decision outcome or the authoritative local record.
type Sink struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewSink(db *gorm.DB, log zerolog.Logger) *Sink {
	return &Sink{db: db, log: log}
}

// Append writes one mirrored record. imageURL replaces the local image
// path when non-empty; rawPayload carries the recognition producer's
// response verbatim.
func (s *Sink) Append(ctx context.Context, rec gate.DecisionRecord, imageURL string, rawPayload map[string]interface{}) error {
	row := GateLog{
		ID:           rec.ID,
		DecidedAt:    rec.DecidedAt,
		Reason:       rec.Reason,
		RawPlate:     rec.RawPlate,
		Score:        rec.Score,
		MatchedPlate: rec.MatchedPlate,
		OwnerName:    rec.OwnerName,
		VehicleMake:  rec.VehicleMake,
		VehicleModel: rec.VehicleModel,
		Colour:       rec.Colour,
		FuzzyMatch:   rec.FuzzyMatch,
		GateOpened:   rec.GateOpened,
		CreatedAt:    time.Now(),
	}

	imagePath := rec.ImageRef
	if imageURL != "" {
		imagePath = imageURL
	}
	if imagePath != "" {
		row.ImagePath = &imagePath
	}

	if len(rawPayload) > 0 {
		b, err := json.Marshal(rawPayload)
		if err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("dropping unmarshalable raw payload")
		} else {
			row.RawPayload = b
		}
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("mirror append %s: %w", rec.ID, err)
	}
	return nil
}
