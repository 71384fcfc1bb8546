package cmd

import (
	"fmt"
	"io"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
)

// PrintError writes err to w with the suggestions devflow knows for it.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, ux.ErrorStyle.Render("Error:")+" "+ux.EnhanceError(err).Error())
}
