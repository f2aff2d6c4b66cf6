// Package catalog defines the Metal Archives band catalogue model:
// partition keys, the paginated browse endpoint, and record parsing.
package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// BaseURL is the root of the Metal Archives site API.
const BaseURL = "https://www.metal-archives.com"

// DefaultPageSize is the page size the browse endpoint serves reliably.
const DefaultPageSize = 500

// PartitionKey identifies one independently crawlable slice of the
// catalogue - a leading letter, or one of the special buckets.
type PartitionKey string

// DefaultAlphabet returns every partition key of the band index:
// A-Z, "NBR" for bands starting with a number, and "~" for symbols.
func DefaultAlphabet() []PartitionKey {
	keys := make([]PartitionKey, 0, 28)
	for c := 'A'; c <= 'Z'; c++ {
		keys = append(keys, PartitionKey(c))
	}
	keys = append(keys, "NBR", "~")
	return keys
}

// BuildEndpoint maps a partition key and a zero-based pagination window
// to the browse request target on the live site. Pure and deterministic.
func BuildEndpoint(key PartitionKey, offset, pageSize int) string {
	return BuildEndpointAt(BaseURL, key, offset, pageSize)
}

// BuildEndpointAt is BuildEndpoint against an alternate base URL, used
// to point a crawl at a mirror or a test server.
func BuildEndpointAt(baseURL string, key PartitionKey, offset, pageSize int) string {
	return fmt.Sprintf(
		"%s/browse/ajax-letter/l/%s/json?sEcho=1&iDisplayStart=%d&iDisplayLength=%d",
		baseURL, url.PathEscape(string(key)), offset, pageSize,
	)
}

// RecordHeader is the column header written once at the top of the
// record sink.
var RecordHeader = []string{"band", "country", "genre", "status"}

// Record is one band row as served by the browse endpoint. Cell values
// are kept verbatim, including any embedded markup.
type Record struct {
	Name    string
	Country string
	Genre   string
	Status  string
}

// CSVRow returns the record as a row matching RecordHeader.
func (r Record) CSVRow() []string {
	return []string{r.Name, r.Country, r.Genre, r.Status}
}

// ErrorBodyLimit caps the response snippet stored in an ErrorEntry.
const ErrorBodyLimit = 500

// ErrorEntry describes one page response that could not be parsed.
type ErrorEntry struct {
	Partition  PartitionKey
	Endpoint   string
	StatusCode int
	Body       string
}

// ErrorHeader is the column header of the error sink.
var ErrorHeader = []string{"partition", "endpoint", "response_code", "response_body"}

// NewErrorEntry builds an ErrorEntry with the body scrubbed of newlines
// and tabs and truncated to ErrorBodyLimit bytes.
func NewErrorEntry(key PartitionKey, endpoint string, statusCode int, body string) ErrorEntry {
	replacer := strings.NewReplacer("\n", "", "\t", "", "\r", "")
	scrubbed := replacer.Replace(body)
	if len(scrubbed) > ErrorBodyLimit {
		scrubbed = scrubbed[:ErrorBodyLimit]
	}
	return ErrorEntry{
		Partition:  key,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Body:       scrubbed,
	}
}

// CSVRow returns the entry as a row matching ErrorHeader.
func (e ErrorEntry) CSVRow() []string {
	return []string{string(e.Partition), e.Endpoint, fmt.Sprintf("%d", e.StatusCode), e.Body}
}

// Page is one decoded batch of catalogue records together with the
// declared total record count for the partition.
type Page struct {
	TotalRecords int
	Records      []Record
}

// pagePayload mirrors the DataTables JSON structure of the endpoint.
type pagePayload struct {
	TotalRecords *int       `json:"iTotalRecords"`
	Rows         [][]string `json:"aaData"`
}

// ParsePage decodes a browse response body. It fails on anything that
// is not the expected DataTables structure, including rows with the
// wrong number of cells.
func ParsePage(body []byte) (Page, error) {
	var payload pagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Page{}, fmt.Errorf("decode page payload: %w", err)
	}
	if payload.TotalRecords == nil {
		return Page{}, fmt.Errorf("page payload missing iTotalRecords")
	}
	if *payload.TotalRecords < 0 {
		return Page{}, fmt.Errorf("negative iTotalRecords %d", *payload.TotalRecords)
	}

	page := Page{
		TotalRecords: *payload.TotalRecords,
		Records:      make([]Record, 0, len(payload.Rows)),
	}
	for i, row := range payload.Rows {
		if len(row) != len(RecordHeader) {
			return Page{}, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(RecordHeader))
		}
		page.Records = append(page.Records, Record{
			Name:    row[0],
			Country: row[1],
			Genre:   row[2],
			Status:  row[3],
		})
	}
	return page, nil
}
