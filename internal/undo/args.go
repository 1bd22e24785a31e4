package undo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/blockundo/internal/vec"
)

// TimeFormat - формат абсолютного времени в аргументах команд
const TimeFormat = "2006-01-02T15:04:05Z"

// ParseTime разбирает границу времени: длительность назад от now ("30m", "2h")
// или абсолютное время в TimeFormat.
func ParseTime(s string, now time.Time) (time.Time, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Parse(TimeFormat, s)
	}
	return now.Add(-d), nil
}

// ParseRegion разбирает область "x1,y1,z1,x2,y2,z2"
func ParseRegion(s string) (vec.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return vec.Box{}, fmt.Errorf("region: expected 6 numbers, got %d", len(parts))
	}
	var n [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return vec.Box{}, fmt.Errorf("region: %w", err)
		}
		n[i] = v
	}
	return vec.NewBox(vec.Vec3{X: n[0], Y: n[1], Z: n[2]}, vec.Vec3{X: n[3], Y: n[4], Z: n[5]}), nil
}

// BuildArgs собирает Args из текстовых параметров; пустые строки - без ограничения
func BuildArgs(since, until, region string, now time.Time) (Args, error) {
	var (
		args Args
		err  error
	)
	if since != "" {
		if args.Since, err = ParseTime(since, now); err != nil {
			return args, fmt.Errorf("since: %w", err)
		}
	}
	if until != "" {
		if args.Until, err = ParseTime(until, now); err != nil {
			return args, fmt.Errorf("until: %w", err)
		}
	}
	if region != "" {
		box, err := ParseRegion(region)
		if err != nil {
			return args, err
		}
		args.Region = &box
	}
	return args, nil
}
