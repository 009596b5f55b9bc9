package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceCalendarRunsOn(t *testing.T) {
	weekdayService := ServiceCalendar{
		ServiceID: "WK",
		Weekdays:  [7]bool{true, true, true, true, true, false, false},
		StartDate: "20240101",
		EndDate:   "20241231",
	}

	tests := []struct {
		name string
		cal  ServiceCalendar
		date time.Time
		want bool
	}{
		{
			name: "weekday inside range",
			cal:  weekdayService,
			date: time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), // Wednesday
			want: true,
		},
		{
			name: "saturday excluded by pattern",
			cal:  weekdayService,
			date: time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "before start date",
			cal:  weekdayService,
			date: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), // Friday
			want: false,
		},
		{
			name: "after end date",
			cal:  weekdayService,
			date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), // Wednesday
			want: false,
		},
		{
			name: "removed date overrides pattern",
			cal: ServiceCalendar{
				Weekdays:     [7]bool{true, true, true, true, true, true, true},
				StartDate:    "20240101",
				EndDate:      "20241231",
				RemovedDates: []string{"20240515"},
			},
			date: time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "added date overrides pattern",
			cal: ServiceCalendar{
				Weekdays:   [7]bool{true, true, true, true, true, false, false},
				StartDate:  "20240101",
				EndDate:    "20241231",
				AddedDates: []string{"20240518"},
			},
			date: time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC), // Saturday
			want: true,
		},
		{
			name: "added date overrides range",
			cal: ServiceCalendar{
				Weekdays:   [7]bool{true, true, true, true, true, true, true},
				StartDate:  "20240101",
				EndDate:    "20241231",
				AddedDates: []string{"20250101"},
			},
			date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "sunday uses last weekday slot",
			cal: ServiceCalendar{
				Weekdays:  [7]bool{false, false, false, false, false, false, true},
				StartDate: "20240101",
				EndDate:   "20241231",
			},
			date: time.Date(2024, 5, 19, 0, 0, 0, 0, time.UTC), // Sunday
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cal.RunsOn(tt.date))
		})
	}
}
