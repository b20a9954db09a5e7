package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/climatewall/internal/climate"
	"github.com/lox/climatewall/internal/models"
)

const (
	synopticBaseURL = "https://api.synopticdata.com/v2/stations"
	synopticTimeFmt = "200601021504"
)

var ErrMissingToken = errors.New("synoptic token is missing (set SYNOPTIC_KEY)")

type SynopticClient struct {
	token   string
	baseURL string
	fetch   *fetcher
}

func NewSynopticClient(token string, client *http.Client) (*SynopticClient, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	return &SynopticClient{
		token:   token,
		baseURL: synopticBaseURL,
		fetch:   newFetcher("synoptic", client),
	}, nil
}

// Response is a decoded Synoptic reply plus the raw body for archiving.
type Response struct {
	Stations []models.Station
	Raw      []byte
}

// FetchTimeseries returns air temperature and cumulative precipitation from
// the start of the water year to now.
func (c *SynopticClient) FetchTimeseries(ctx context.Context, stationIDs []string, now time.Time) (*Response, error) {
	params := c.params(stationIDs)
	params.Set("vars", "air_temp,precip_accum")
	params.Set("start", climate.WaterYearStart(now).Format(synopticTimeFmt))
	params.Set("end", now.UTC().Format(synopticTimeFmt))
	params.Set("hfmetars", "0")
	return c.get(ctx, "timeseries", params)
}

// FetchLatest returns the last 24 hours of air temperature and the 6 hour
// extrema.
func (c *SynopticClient) FetchLatest(ctx context.Context, stationIDs []string) (*Response, error) {
	params := c.params(stationIDs)
	params.Set("vars", "air_temp,air_temp_high_6_hour,air_temp_low_6_hour")
	params.Set("recent", "1440")
	params.Set("hfmetars", "0")
	return c.get(ctx, "timeseries", params)
}

// FetchPrecip returns hourly precipitation intervals for the water year.
func (c *SynopticClient) FetchPrecip(ctx context.Context, stationIDs []string, now time.Time) (*Response, error) {
	params := c.params(stationIDs)
	params.Set("pmode", "intervals")
	params.Set("interval", "hour")
	params.Set("start", climate.WaterYearStart(now).Format(synopticTimeFmt))
	params.Set("end", now.UTC().Format(synopticTimeFmt))
	return c.get(ctx, "precipitation", params)
}

func (c *SynopticClient) params(stationIDs []string) url.Values {
	params := url.Values{}
	params.Set("stid", strings.Join(stationIDs, ","))
	params.Set("token", c.token)
	params.Set("showemptystations", "1")
	return params
}

func (c *SynopticClient) get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())
	body, err := c.fetch.do(ctx, endpoint, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("synoptic %s: %w", endpoint, err)
	}

	if code := gjson.GetBytes(body, "SUMMARY.RESPONSE_CODE"); code.Int() != 1 {
		return nil, fmt.Errorf("synoptic %s: api error: %s", endpoint, gjson.GetBytes(body, "SUMMARY.RESPONSE_MESSAGE").String())
	}

	var data struct {
		Station []models.Station `json:"STATION"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("synoptic %s: unmarshal: %w", endpoint, err)
	}
	return &Response{Stations: data.Station, Raw: body}, nil
}
