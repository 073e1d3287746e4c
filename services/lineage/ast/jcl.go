// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Job is the structural model of a JCL job stream.
type Job struct {
	Name     string `json:"name"`
	FileName string `json:"file_name"`

	// HasJobCard is false when Name fell back to the file stem.
	HasJobCard bool `json:"has_job_card"`

	Steps    []JobStep    `json:"steps"`
	Datasets []JobDataset `json:"datasets,omitempty"`
}

// JobStep is one EXEC card.
type JobStep struct {
	Name string `json:"name"`

	// Program is the PGM= operand, empty when the step runs a procedure.
	Program string `json:"program,omitempty"`

	// Proc is the PROC= (or positional) procedure name.
	Proc string `json:"proc,omitempty"`

	Line int `json:"line"`
}

// JobDataset is one DD card with a DSN.
type JobDataset struct {
	DDName string `json:"dd_name"`
	DSN    string `json:"dsn"`
	Step   string `json:"step"`
	Line   int    `json:"line"`
}

var (
	jclJobRe  = regexp.MustCompile(`(?i)^//([A-Z0-9@#$]+)\s+JOB\b`)
	jclExecRe = regexp.MustCompile(`(?i)^//([A-Z0-9@#$.]*)\s+EXEC\s+(.*)$`)
	jclPgmRe  = regexp.MustCompile(`(?i)\bPGM=([A-Z0-9@#$]+)`)
	jclProcRe = regexp.MustCompile(`(?i)\bPROC=([A-Z0-9@#$]+)`)
	jclDDRe   = regexp.MustCompile(`(?i)^//([A-Z0-9@#$.]*)\s+DD\b(.*)$`)
	jclDSNRe  = regexp.MustCompile(`(?i)\bDSN(?:AME)?=([A-Z0-9@#$.&()+-]+)`)
)

// ParseJCL extracts job, step and dataset cards from JCL text.
//
// Comment cards ("//*") and in-stream data are skipped. The job name
// falls back to the file stem when no JOB card is present.
func ParseJCL(content []byte, fileName string) *Job {
	job := &Job{
		FileName: fileName,
		Steps:    make([]JobStep, 0, 4),
	}
	step := ""
	for idx, raw := range strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n") {
		line := idx + 1
		if strings.HasPrefix(raw, "//*") || !strings.HasPrefix(raw, "//") {
			continue
		}
		if len(raw) > 72 {
			raw = raw[:72]
		}
		raw = strings.TrimRight(raw, " ")

		if m := jclJobRe.FindStringSubmatch(raw); m != nil {
			if job.Name == "" {
				job.Name = strings.ToUpper(m[1])
				job.HasJobCard = true
			}
			continue
		}
		if m := jclExecRe.FindStringSubmatch(raw); m != nil {
			s := JobStep{Name: strings.ToUpper(m[1]), Line: line}
			operands := m[2]
			switch {
			case jclPgmRe.MatchString(operands):
				s.Program = strings.ToUpper(jclPgmRe.FindStringSubmatch(operands)[1])
			case jclProcRe.MatchString(operands):
				s.Proc = strings.ToUpper(jclProcRe.FindStringSubmatch(operands)[1])
			default:
				s.Proc = strings.ToUpper(strings.TrimRight(firstWord(strings.Split(operands, ",")[0]), ","))
			}
			step = s.Name
			job.Steps = append(job.Steps, s)
			continue
		}
		if m := jclDDRe.FindStringSubmatch(raw); m != nil {
			if d := jclDSNRe.FindStringSubmatch(m[2]); d != nil {
				job.Datasets = append(job.Datasets, JobDataset{
					DDName: strings.ToUpper(m[1]),
					DSN:    strings.ToUpper(d[1]),
					Step:   step,
					Line:   line,
				})
			}
		}
	}
	if job.Name == "" {
		job.Name = fileStem(fileName)
	}
	return job
}

// fileStem returns the upper-cased base name without extension.
func fileStem(fileName string) string {
	if fileName == "" {
		return ""
	}
	base := filepath.Base(fileName)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}
