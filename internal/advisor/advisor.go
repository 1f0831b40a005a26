// Package advisor recommends a grid trading direction from recently closed
// candles and their volume, blended across several timeframes. A decisive
// candle on expanding volume leans the grid to one side; anything murky
// keeps it trading both.
package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

// Direction is the recommended grid bias.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionBoth Direction = "both"
)

// Confidence grades how decisive the recommendation is.
type Confidence string

const (
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceModerate Confidence = "MODERATE"
	ConfidenceLow      Confidence = "LOW"
)

// CandleType classifies a closed candle.
type CandleType string

const (
	CandleBullish CandleType = "BULLISH"
	CandleBearish CandleType = "BEARISH"
	CandleDoji    CandleType = "DOJI"
)

// Strength grades the candle body against its full range.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
)

// VolumeLevel grades a candle's volume against its moving average.
type VolumeLevel string

const (
	VolumeVeryHigh VolumeLevel = "VERY_HIGH"
	VolumeHigh     VolumeLevel = "HIGH"
	VolumeModerate VolumeLevel = "MODERATE"
	VolumeLow      VolumeLevel = "LOW"
	VolumeUnknown  VolumeLevel = "UNKNOWN"
)

const (
	volumeMAPeriod = 20
	cacheTTL       = time.Minute

	// minimum score lead before the grid is biased to one side
	directionMargin = 0.15
)

// confidence contribution of a per-timeframe decision to the blend
var confidenceWeight = map[Confidence]float64{
	ConfidenceHigh:     1.0,
	ConfidenceModerate: 0.6,
	ConfidenceLow:      0.3,
}

var timeframeWeights = []struct {
	Timeframe types.Timeframe
	Weight    float64
}{
	{types.TimeframeM5, 0.2},
	{types.TimeframeM15, 0.5},
	{types.TimeframeH1, 0.3},
}

// CandleAnalysis is the shape read off one closed candle.
type CandleAnalysis struct {
	Type      CandleType
	Strength  Strength
	BodyPips  float64
	RangePips float64
	BodyRatio float64
}

// VolumeAnalysis compares a candle's volume to its recent average.
type VolumeAnalysis struct {
	Level   VolumeLevel
	Ratio   float64
	Current float64
	MA      float64
}

// TimeframeView is the per-timeframe verdict feeding the blend.
type TimeframeView struct {
	Timeframe  types.Timeframe
	Candle     CandleAnalysis
	Volume     VolumeAnalysis
	Direction  Direction
	Confidence Confidence
	Reason     string
}

// Advice is the blended recommendation.
type Advice struct {
	Direction  Direction
	Confidence Confidence
	BuyScore   float64
	SellScore  float64
	Views      []TimeframeView
	Reason     string
	At         time.Time
}

// Advisor reads candles through the gateway and caches its verdict briefly.
type Advisor struct {
	gateway broker.Gateway
	cfg     *config.Config
	log     *logger.Logger

	cached   *Advice
	cachedAt time.Time
}

// NewAdvisor creates a direction advisor.
func NewAdvisor(gateway broker.Gateway, cfg *config.Config, log *logger.Logger) *Advisor {
	return &Advisor{
		gateway: gateway,
		cfg:     cfg,
		log:     log,
	}
}

// ClearCache drops the cached advice so the next call recomputes.
func (a *Advisor) ClearCache() {
	a.cached = nil
	a.cachedAt = time.Time{}
}

// Advise blends the per-timeframe verdicts into one direction. Timeframes
// without enough candles are skipped; with no usable timeframe at all an
// insufficient data error is returned.
func (a *Advisor) Advise(ctx context.Context, now time.Time) (*Advice, error) {
	if a.cached != nil && now.Sub(a.cachedAt) < cacheTTL {
		return a.cached, nil
	}

	var (
		views     []TimeframeView
		buyScore  float64
		sellScore float64
	)

	for _, tw := range timeframeWeights {
		view, err := a.analyzeTimeframe(ctx, tw.Timeframe)
		if err != nil {
			a.log.Debug("timeframe skipped",
				zap.String("timeframe", string(tw.Timeframe)), zap.Error(err))

			continue
		}

		views = append(views, view)

		contribution := tw.Weight * confidenceWeight[view.Confidence]

		switch view.Direction {
		case DirectionBuy:
			buyScore += contribution
		case DirectionSell:
			sellScore += contribution
		default:
			buyScore += contribution / 2
			sellScore += contribution / 2
		}
	}

	if len(views) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "no timeframe had enough candles for direction analysis")
	}

	advice := &Advice{
		Direction:  blendDirection(buyScore, sellScore),
		Confidence: blendConfidence(buyScore, sellScore),
		BuyScore:   buyScore,
		SellScore:  sellScore,
		Views:      views,
		Reason:     joinReasons(views),
		At:         now,
	}

	a.cached = advice
	a.cachedAt = now

	a.log.Info("direction advice",
		zap.String("direction", string(advice.Direction)),
		zap.String("confidence", string(advice.Confidence)),
		zap.Float64("buy_score", buyScore),
		zap.Float64("sell_score", sellScore))

	return advice, nil
}

func (a *Advisor) analyzeTimeframe(ctx context.Context, timeframe types.Timeframe) (TimeframeView, error) {
	candles, err := a.gateway.GetRecentCandles(ctx, a.cfg.Symbol, timeframe, volumeMAPeriod)
	if err != nil {
		return TimeframeView{}, errors.Wrap(errors.ErrCodeCandleFetchFailed, "failed to fetch candles", err)
	}

	if len(candles) < volumeMAPeriod {
		return TimeframeView{}, errors.NewInsufficientDataError(volumeMAPeriod, len(candles), a.cfg.Symbol, "not enough candles for volume analysis")
	}

	candle := AnalyzeCandle(candles[len(candles)-1], a.cfg.PipValue)
	volume := AnalyzeVolume(candles)
	direction, confidence, reason := decide(candle, volume)

	return TimeframeView{
		Timeframe:  timeframe,
		Candle:     candle,
		Volume:     volume,
		Direction:  direction,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}

// AnalyzeCandle classifies one closed candle by body direction and by how
// much of its range the body fills.
func AnalyzeCandle(c types.Candle, pipValue float64) CandleAnalysis {
	analysis := CandleAnalysis{
		Type:      CandleDoji,
		Strength:  StrengthWeak,
		BodyPips:  c.Body() / pipValue,
		RangePips: c.Range() / pipValue,
	}

	switch {
	case c.Close > c.Open:
		analysis.Type = CandleBullish
	case c.Close < c.Open:
		analysis.Type = CandleBearish
	}

	if c.Range() > 0 {
		analysis.BodyRatio = c.Body() / c.Range()
	}

	switch {
	case analysis.BodyRatio >= 0.7:
		analysis.Strength = StrengthStrong
	case analysis.BodyRatio >= 0.4:
		analysis.Strength = StrengthModerate
	}

	return analysis
}

// AnalyzeVolume compares the last candle's volume to the average over the
// whole slice.
func AnalyzeVolume(candles []types.Candle) VolumeAnalysis {
	last := candles[len(candles)-1]

	total := 0.0
	for _, c := range candles {
		total += c.Volume
	}

	ma := total / float64(len(candles))

	analysis := VolumeAnalysis{
		Level:   VolumeUnknown,
		Current: last.Volume,
		MA:      ma,
	}

	if ma == 0 {
		return analysis
	}

	analysis.Ratio = last.Volume / ma

	switch {
	case analysis.Ratio >= 2.0:
		analysis.Level = VolumeVeryHigh
	case analysis.Ratio >= 1.5:
		analysis.Level = VolumeHigh
	case analysis.Ratio >= 1.2:
		analysis.Level = VolumeModerate
	default:
		analysis.Level = VolumeLow
	}

	return analysis
}

// decide turns one candle and volume reading into a per-timeframe verdict.
func decide(candle CandleAnalysis, volume VolumeAnalysis) (Direction, Confidence, string) {
	decisiveBody := candle.Strength == StrengthStrong || candle.Strength == StrengthModerate
	expandingVolume := volume.Level == VolumeVeryHigh || volume.Level == VolumeHigh

	switch {
	case candle.Type == CandleBullish && decisiveBody && expandingVolume:
		return DirectionBuy, ConfidenceHigh,
			fmt.Sprintf("bullish candle (%.1fp) on %s volume (%.2fx)", candle.BodyPips, volume.Level, volume.Ratio)
	case candle.Type == CandleBearish && decisiveBody && expandingVolume:
		return DirectionSell, ConfidenceHigh,
			fmt.Sprintf("bearish candle (%.1fp) on %s volume (%.2fx)", candle.BodyPips, volume.Level, volume.Ratio)
	case candle.Type == CandleBullish && volume.Level == VolumeModerate:
		return DirectionBuy, ConfidenceModerate,
			fmt.Sprintf("bullish candle on moderate volume (%.2fx)", volume.Ratio)
	case candle.Type == CandleBearish && volume.Level == VolumeModerate:
		return DirectionSell, ConfidenceModerate,
			fmt.Sprintf("bearish candle on moderate volume (%.2fx)", volume.Ratio)
	default:
		return DirectionBoth, ConfidenceLow,
			fmt.Sprintf("indecisive: %s %s candle, %s volume", candle.Type, candle.Strength, volume.Level)
	}
}

func blendDirection(buyScore, sellScore float64) Direction {
	switch {
	case buyScore-sellScore > directionMargin:
		return DirectionBuy
	case sellScore-buyScore > directionMargin:
		return DirectionSell
	default:
		return DirectionBoth
	}
}

func blendConfidence(buyScore, sellScore float64) Confidence {
	diff := buyScore - sellScore
	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff >= 0.4:
		return ConfidenceHigh
	case diff >= 0.2:
		return ConfidenceModerate
	default:
		return ConfidenceLow
	}
}

func joinReasons(views []TimeframeView) string {
	chunks := make([]string, len(views))
	for i, v := range views {
		chunks[i] = fmt.Sprintf("%s %s (%s): %s", v.Timeframe, strings.ToUpper(string(v.Direction)), v.Confidence, v.Reason)
	}

	return strings.Join(chunks, " | ")
}
