package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/gridhedge/internal/types"
	"github.com/rxtech-lab/gridhedge/pkg/errors"
)

type ATRTestSuite struct {
	suite.Suite
}

func TestATRSuite(t *testing.T) {
	suite.Run(t, new(ATRTestSuite))
}

func candleSeries(bars []struct{ high, low, close float64 }) []types.Candle {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(bars))

	for i, b := range bars {
		out[i] = types.Candle{
			Time:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  b.close,
			High:  b.high,
			Low:   b.low,
			Close: b.close,
		}
	}

	return out
}

func (suite *ATRTestSuite) TestConstantRange() {
	// every bar spans exactly 1.0 with no gaps, so TR is 1.0 throughout
	bars := make([]struct{ high, low, close float64 }, 15)
	for i := range bars {
		bars[i] = struct{ high, low, close float64 }{101, 100, 100.5}
	}

	atr, err := ATR(candleSeries(bars), 14, 0.1)
	suite.Require().NoError(err)
	suite.InDelta(10.0, atr, 1e-9)
}

func (suite *ATRTestSuite) TestGapDominatesTrueRange() {
	bars := []struct{ high, low, close float64 }{
		{101, 100, 100.5},
		// gap up: |high - prev close| = 4.5 exceeds the bar range
		{105, 104, 104.5},
		{105, 104, 104.5},
	}

	atr, err := ATR(candleSeries(bars), 2, 0.1)
	suite.Require().NoError(err)
	// TRs are 4.5 and 1.0, averaged over 2 and divided by the pip value
	suite.InDelta(27.5, atr, 1e-9)
}

func (suite *ATRTestSuite) TestUsesOnlyTrailingWindow() {
	bars := make([]struct{ high, low, close float64 }, 20)
	for i := range bars {
		bars[i] = struct{ high, low, close float64 }{110, 90, 100}
	}

	// recent bars are quiet; the noisy history must not leak in
	for i := 15; i < 20; i++ {
		bars[i] = struct{ high, low, close float64 }{100.5, 99.5, 100}
	}

	atr, err := ATR(candleSeries(bars), 4, 0.1)
	suite.Require().NoError(err)
	suite.InDelta(10.0, atr, 1e-9)
}

func (suite *ATRTestSuite) TestInsufficientData() {
	bars := make([]struct{ high, low, close float64 }, 10)
	for i := range bars {
		bars[i] = struct{ high, low, close float64 }{101, 100, 100.5}
	}

	_, err := ATR(candleSeries(bars), 14, 0.1)
	suite.Require().Error(err)
	suite.True(errors.IsInsufficientDataError(err))
}

func (suite *ATRTestSuite) TestInvalidPeriod() {
	_, err := ATR(nil, 0, 0.1)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *ATRTestSuite) TestInvalidPipValue() {
	_, err := ATR(nil, 14, 0)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *ATRTestSuite) TestVolatilityLevels() {
	suite.Equal(VolatilityLow, Volatility(39.9))
	suite.Equal(VolatilityModerate, Volatility(40))
	suite.Equal(VolatilityModerate, Volatility(69.9))
	suite.Equal(VolatilityHigh, Volatility(70))
	suite.Equal(VolatilityHigh, Volatility(99.9))
	suite.Equal(VolatilityVeryHigh, Volatility(100))
}
