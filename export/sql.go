package export

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/ftl/tagstrainer/detector"
)

const sqlPulseCountInfo = 1000

// Dialect holds the statements for one database flavor.
type Dialect struct {
	Name        string
	CreateTable string
	InsertPulse string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		CreateTable: `CREATE TABLE IF NOT EXISTS pulses (
			"ID"             INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			"TargetID"       INTEGER NOT NULL,
			"Freq"           REAL,
			"Duration"       REAL,
			"SignalStrength" REAL,
			"Gain"           REAL,
			"Timestamp"      INTEGER
		);`,
		InsertPulse: `INSERT INTO pulses (
			TargetID,
			Freq,
			Duration,
			SignalStrength,
			Gain,
			Timestamp
		) VALUES (?, ?, ?, ?, ?, ?);`,
	}
	MySQL = Dialect{
		Name: "mysql",
		CreateTable: "CREATE TABLE IF NOT EXISTS pulses (" +
			"`ID` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
			"`TargetID` INTEGER NOT NULL," +
			"`Freq` DOUBLE," +
			"`Duration` DOUBLE," +
			"`SignalStrength` DOUBLE," +
			"`Gain` DOUBLE," +
			"`Timestamp` BIGINT" +
			");",
		InsertPulse: "INSERT INTO pulses (`TargetID`, `Freq`, `Duration`, `SignalStrength`, `Gain`, `Timestamp`) VALUES (?, ?, ?, ?, ?, ?);",
	}
)

// SQL stores pulses in the table "pulses", the timestamp is stored in milliseconds since the UNIX epoch.
type SQL struct {
	DB      *sql.DB
	Dialect Dialect
}

func (s *SQL) Write(ctx context.Context, pulses <-chan detector.Pulse) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.CreateTable); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	insert, err := s.DB.PrepareContext(ctx, s.Dialect.InsertPulse)
	if err != nil {
		return fmt.Errorf("unable to prepare insert statement: %w", err)
	}
	defer insert.Close()

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for {
		var pulse detector.Pulse
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case pulse, ok = <-pulses:
			if !ok {
				return nil
			}
		}

		counts["total"] += 1
		_, err := insert.ExecContext(ctx, pulse.TargetID, pulse.Freq, pulse.Duration, pulse.SignalStrength, pulse.Gain, pulse.Timestamp.Millis())
		if err != nil {
			counts["error"] += 1
			log.Printf("error storing pulse in %s DB: %v", s.Dialect.Name, err)
			continue
		}
		counts["success"] += 1
		if counts["total"]%sqlPulseCountInfo == 0 {
			log.Printf("pulse export counts: %+v", counts)
		}
	}
}
