// Package integration handles the field document format and its transport
package integration

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// documentRoot is the root element of both input and output documents
const documentRoot = "camposAgricolas"

type xmlDocument struct {
	XMLName xml.Name   `xml:"camposAgricolas"`
	Fields  []xmlField `xml:"campo"`
}

type xmlField struct {
	ID          string       `xml:"id,attr"`
	Name        string       `xml:"nombre,attr"`
	Stations    []xmlStation `xml:"estacionesBase>estacion"`
	SoilSensors []xmlSensor  `xml:"sensoresSuelo>sensorS"`
	CropSensors []xmlSensor  `xml:"sensoresCultivo>sensorT"`
}

type xmlReducedDocument struct {
	XMLName xml.Name          `xml:"camposAgricolas"`
	Fields  []xmlReducedField `xml:"campo"`
}

type xmlReducedField struct {
	ID          string       `xml:"id,attr"`
	Name        string       `xml:"nombre,attr"`
	Stations    []xmlStation `xml:"estacionesBaseReducidas>estacion"`
	SoilSensors []xmlSensor  `xml:"sensoresSuelo>sensorS"`
	CropSensors []xmlSensor  `xml:"sensoresCultivo>sensorT"`
}

type xmlStation struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"nombre,attr"`
}

type xmlSensor struct {
	ID          string         `xml:"id,attr"`
	Name        string         `xml:"nombre,attr"`
	Frequencies []xmlFrequency `xml:"frecuencia"`
}

type xmlFrequency struct {
	StationID string `xml:"idEstacion,attr"`
	Value     string `xml:",chardata"`
}

// FieldDocuments reads and writes field documents
type FieldDocuments struct {
	client *http.Client
	logger *zap.Logger
}

// NewFieldDocuments creates a codec. A nil client uses a 30 second timeout client.
func NewFieldDocuments(client *http.Client, logger *zap.Logger) *FieldDocuments {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldDocuments{client: client, logger: logger}
}

// Load decodes the document stored at path
func (d *FieldDocuments) Load(path string) (*entities.Batch, error) {
	d.logger.Info("Loading field document", zap.String("path", path))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open field document: %w", err)
	}
	defer f.Close()
	return d.Decode(f, path)
}

// Fetch downloads and decodes a document
func (d *FieldDocuments) Fetch(ctx context.Context, url string) (*entities.Batch, error) {
	d.logger.Info("Fetching field document", zap.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch field document: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d %s", res.StatusCode, res.Status)
	}
	return d.Decode(res.Body, url)
}

// Decode parses a field document. Sensors and stations keep their document order.
func (d *FieldDocuments) Decode(r io.Reader, source string) (*entities.Batch, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse field document: %w", err)
	}

	batch := &entities.Batch{Source: source, LoadedAt: time.Now()}
	seenFields := make(map[string]bool)
	for _, xf := range doc.Fields {
		if xf.ID == "" {
			return nil, fmt.Errorf("field %q has no id", xf.Name)
		}
		if seenFields[xf.ID] {
			return nil, fmt.Errorf("duplicate field id %s", xf.ID)
		}
		seenFields[xf.ID] = true

		field, err := d.decodeField(xf)
		if err != nil {
			return nil, err
		}
		batch.Fields = append(batch.Fields, field)
	}

	d.logger.Info("Field document loaded",
		zap.String("source", source),
		zap.Int("fields", len(batch.Fields)))
	return batch, nil
}

func (d *FieldDocuments) decodeField(xf xmlField) (*entities.Field, error) {
	log := d.logger.With(zap.String("field", xf.ID))
	field := entities.NewField(xf.ID, xf.Name)

	for _, xs := range xf.Stations {
		if xs.ID == "" {
			return nil, fmt.Errorf("field %s: station %q has no id", xf.ID, xs.Name)
		}
		if field.Station(xs.ID) != nil {
			return nil, fmt.Errorf("field %s: duplicate station id %s", xf.ID, xs.ID)
		}
		field.AddStation(entities.NewStation(xs.ID, xs.Name))
		log.Debug("Station declared", zap.String("station", xs.ID))
	}

	// Totals are keyed by sensor id downstream, so ids are unique across both categories.
	sensorIDs := make(map[string]entities.Category)
	for _, group := range []struct {
		sensors  []xmlSensor
		category entities.Category
	}{
		{xf.SoilSensors, entities.CategorySoil},
		{xf.CropSensors, entities.CategoryCrop},
	} {
		for _, xs := range group.sensors {
			if prev, ok := sensorIDs[xs.ID]; ok {
				return nil, fmt.Errorf("field %s: duplicate sensor id %s (%s and %s sensors)",
					xf.ID, xs.ID, prev, group.category)
			}
			sensorIDs[xs.ID] = group.category
			sensor, err := d.decodeSensor(field, xs, group.category, log)
			if err != nil {
				return nil, err
			}
			field.AddSensor(sensor)
		}
	}

	log.Info("Field decoded",
		zap.Int("stations", len(field.Stations)),
		zap.Int("soil_sensors", len(field.SoilSensors)),
		zap.Int("crop_sensors", len(field.CropSensors)))
	return field, nil
}

func (d *FieldDocuments) decodeSensor(field *entities.Field, xs xmlSensor, c entities.Category, log *zap.Logger) (*entities.Sensor, error) {
	sensor := entities.NewSensor(xs.ID, xs.Name, c)
	for _, xf := range xs.Frequencies {
		raw := strings.TrimSpace(xf.Value)
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %s sensor %s: invalid frequency %q for station %s: %w",
				field.ID, c, xs.ID, raw, xf.StationID, err)
		}
		if value < 0 {
			return nil, fmt.Errorf("field %s: %s sensor %s: negative frequency %d for station %s",
				field.ID, c, xs.ID, value, xf.StationID)
		}
		if field.Station(xf.StationID) == nil {
			log.Warn("Frequency references unknown station",
				zap.String("sensor", xs.ID), zap.String("station", xf.StationID))
		}
		if !sensor.SetFrequency(xf.StationID, value) {
			log.Warn("Duplicate frequency ignored, keeping the first value",
				zap.String("sensor", xs.ID), zap.String("station", xf.StationID))
		}
	}
	return sensor, nil
}

// Encode writes the reduced document: one station per group and the
// non-zero totals keyed by group representative. Fields without groups are
// left out.
func (d *FieldDocuments) Encode(w io.Writer, batch *entities.Batch) error {
	doc := xmlReducedDocument{}
	for _, f := range batch.Fields {
		if !f.Processed() {
			d.logger.Warn("Skipping unprocessed field in output", zap.String("field", f.ID))
			continue
		}
		doc.Fields = append(doc.Fields, reducedField(f))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write document header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode %s document: %w", documentRoot, err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return nil
}

// Marshal returns the reduced document as bytes
func (d *FieldDocuments) Marshal(batch *entities.Batch) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf, batch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the reduced document to path, creating parent directories
func (d *FieldDocuments) Save(path string, batch *entities.Batch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := d.Marshal(batch)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	d.logger.Info("Reduced document written", zap.String("path", path))
	return nil
}

func reducedField(f *entities.Field) xmlReducedField {
	out := xmlReducedField{ID: f.ID, Name: f.Name}
	for _, g := range f.Groups {
		rep := g.Representative()
		out.Stations = append(out.Stations, xmlStation{ID: rep.ID, Name: g.Label()})
	}
	out.SoilSensors = reducedSensors(f.SoilSensors, f.Groups)
	out.CropSensors = reducedSensors(f.CropSensors, f.Groups)
	return out
}

func reducedSensors(sensors []*entities.Sensor, groups []*entities.Group) []xmlSensor {
	out := make([]xmlSensor, 0, len(sensors))
	for _, s := range sensors {
		xs := xmlSensor{ID: s.ID, Name: s.Name}
		for _, g := range groups {
			if total, ok := g.Total(s.ID); ok {
				xs.Frequencies = append(xs.Frequencies, xmlFrequency{
					StationID: g.Representative().ID,
					Value:     strconv.FormatInt(total, 10),
				})
			}
		}
		out = append(out, xs)
	}
	return out
}
