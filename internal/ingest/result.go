package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// ErrorType discriminates the failure results of CreateCityRecord.
type ErrorType string

const (
	ErrorCityNotFound    ErrorType = "CityNotFound"
	ErrorUniqueness      ErrorType = "UniquenessError"
	ErrorStationNotFound ErrorType = "StationNotFound"
	ErrorValidation      ErrorType = "ValidationError"
	ErrorValue           ErrorType = "ValueError"
)

// Result is the outcome of creating one page's records. On failure Info
// carries the detail for ErrorType:
//
//	CityNotFound     the city key (string)
//	UniquenessError  the update time (time.Time)
//	StationNotFound  every missing station name ([]string)
//	ValidationError  field messages per record (map[string]map[string][]string)
//	ValueError       the offending record, field and value (ValueInfo)
//
// On success Info is the created *domain.RecordSet.
type Result struct {
	Success   bool      `json:"success"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	Info      any       `json:"info"`
}

// ValueInfo locates a hard numeric conversion failure.
type ValueInfo struct {
	Record string `json:"record"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

// Created returns the created records of a successful result.
func (r Result) Created() (*domain.RecordSet, bool) {
	set, ok := r.Info.(*domain.RecordSet)
	return set, ok && r.Success
}

// Err converts a failure result into an error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %v", r.ErrorType, r.Info)
}

func succeeded(set *domain.RecordSet) Result {
	return Result{Success: true, Info: set}
}

func failed(t ErrorType, info any) Result {
	return Result{ErrorType: t, Info: info}
}

func cityNotFound(key string) Result { return failed(ErrorCityNotFound, key) }

func uniqueness(at time.Time) Result { return failed(ErrorUniqueness, at) }

// recordErrors accumulates validation problems across the city record and
// its station records.
type recordErrors map[string]map[string][]string

func (e recordErrors) add(record string, err *domain.ValidationError) {
	fields, ok := e[record]
	if !ok {
		fields = make(map[string][]string, len(err.Fields))
		e[record] = fields
	}
	for f, msgs := range err.Fields {
		fields[f] = append(fields[f], msgs...)
	}
}

// classify turns a record builder error into a failure result. It reports
// false for errors that are not validation problems.
func classify(record string, err error, acc recordErrors) (Result, bool) {
	var ve *domain.ValueError
	if errors.As(err, &ve) {
		return failed(ErrorValue, ValueInfo{Record: record, Field: ve.Field, Value: ve.Value}), true
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		acc.add(record, verr)
		return Result{}, true
	}
	return Result{}, false
}
