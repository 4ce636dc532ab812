package scene

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/spearsim/scenebatch/internal/fsutil"
)

var positionFile = regexp.MustCompile(`^pos.*?(\d+)\.csv$`)

// DiscoverTalkers returns the active talker ids of a minute directory: the
// trailing digits of every pos*.csv file, minus the receiver. Every talker
// must belong to pool.
func DiscoverTalkers(minuteDir string, receiverID int, pool []int) ([]int, error) {
	files, err := fsutil.GlobVisible(minuteDir, "pos*.csv")
	if err != nil {
		return nil, err
	}

	var ids []int
	seenReceiver := false
	for _, f := range files {
		m := positionFile.FindStringSubmatch(filepath.Base(f))
		if m == nil {
			return nil, fmt.Errorf("position file %s has no talker id", filepath.Base(f))
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("position file %s: %w", filepath.Base(f), err)
		}
		if id == receiverID {
			seenReceiver = true
			continue
		}
		if !slices.Contains(pool, id) {
			return nil, fmt.Errorf("talker %d is not in the interferer pool %v", id, pool)
		}
		ids = append(ids, id)
	}
	if !seenReceiver {
		return nil, fmt.Errorf("receiver position file %s missing in %s", fmt.Sprintf("pos_ID%d.csv", receiverID), minuteDir)
	}

	slices.Sort(ids)
	return slices.Compact(ids), nil
}
