// Package utils contains small helpers shared by the recognition packages.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated number of groups.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// NumGroups returns how many groups GroupWorkParallel splits totalSize items into.
func NumGroups(totalSize int) int {
	if totalSize <= 0 {
		return 0
	}
	if totalSize < ParallelFactor {
		return totalSize
	}
	return ParallelFactor
}

// GroupWorkParallel parallelizes the given size of work over multiple workers. Work items are
// split into contiguous ranges, one per group, with the remainder going to the last group.
// Panics inside a group are recovered and returned as errors. A cancelled context stops groups
// that have not started their range yet.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	numGroups := NumGroups(totalSize)
	if before != nil {
		before(numGroups)
	}
	if numGroups == 0 {
		return ctx.Err()
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var (
		wait   sync.WaitGroup
		errMu  sync.Mutex
		allErr error
	)
	storeError := func(err error) {
		errMu.Lock()
		allErr = multierr.Append(allErr, err)
		errMu.Unlock()
	}

	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("panic in parallel group %d: %v", groupNum, thePanic))
				}
			}()
			if ctx.Err() != nil {
				return
			}

			thisGroupSize := groupSize
			thisExtra := 0
			if groupNum == (numGroups - 1) {
				thisExtra = extra
				thisGroupSize += thisExtra
			}
			from := groupSize * groupNum
			to := (groupSize * (groupNum + 1)) + thisExtra
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		})
	}
	wait.Wait()
	return multierr.Combine(allErr, ctx.Err())
}

// ParallelForEach calls f for every index in [0, totalSize) using GroupWorkParallel. f must only
// write to state owned by its index.
func ParallelForEach(ctx context.Context, totalSize int, f func(idx int)) error {
	return GroupWorkParallel(
		ctx,
		totalSize,
		nil,
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				f(workNum)
			}, nil
		},
	)
}
