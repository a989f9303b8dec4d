package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"courtbot/internal/cancel"
	"courtbot/internal/models"
	"courtbot/internal/monitor"
)

func statusMark(s models.SlotStatus) string {
	switch s {
	case models.StatusAvailable:
		return "✅"
	case models.StatusTaken:
		return "⭕"
	default:
		return "❔"
	}
}

// printSlots writes one line per slot. Only available slots are listed
// unless all is set.
func printSlots(w io.Writer, slots []models.Slot, all bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range slots {
		if !all && s.Status != models.StatusAvailable {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s-%s\t%s\t%s\n",
			statusMark(s.Status), s.Date, s.Start, s.End, s.FacilityName, s.CourtName)
	}
	tw.Flush()
}

func printReports(w io.Writer, reports []models.ScanReport, all bool) {
	available := 0
	for _, rep := range reports {
		if rep.Err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", rep.Facility.Name, rep.Err)
			continue
		}
		n := len(models.Available(rep.Slots))
		available += n
		fmt.Fprintf(w, "📍 %s: %d available / %d slots\n", rep.Facility.Name, n, len(rep.Slots))
		printSlots(w, rep.Slots, all)
	}
	fmt.Fprintf(w, "\n📊 %d facilities, %d available slots\n", len(reports), available)
}

func printCheck(w io.Writer, c monitor.Check) {
	printReports(w, c.Reports, false)
	if len(c.New) == 0 {
		fmt.Fprintln(w, "no new slots")
	} else {
		fmt.Fprintf(w, "\n🎉 %d new slots\n", len(c.New))
		printSlots(w, c.New, false)
	}
	for _, r := range c.Bookings {
		printBooking(w, r)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
}

func printBooking(w io.Writer, r models.BookingResult) {
	if r.Succeeded() {
		fmt.Fprintf(w, "✅ booked %s (confirmation %s)\n", r.Slot, r.ConfirmationNumber)
		return
	}
	fmt.Fprintf(w, "❌ booking %s failed at %s: %s\n", r.Slot, r.FailureStep, r.FailureReason)
	if r.Committed {
		fmt.Fprintln(w, "⚠️  the request was submitted; check the portal before retrying")
	}
}

func printCancellations(w io.Writer, done []cancel.Cancellation) {
	for _, c := range done {
		fmt.Fprintf(w, "🗑️  cancelled %s %s\n", c.Number, c.Summary)
	}
	fmt.Fprintf(w, "%d cancelled\n", len(done))
}
