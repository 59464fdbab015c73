package config

import (
	"strconv"
	"strings"
)

// UnknownRegion is stored when no department can be resolved
const UnknownRegion = "unknown"

// Region represents an administrative region and the departments it groups
type Region struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Departments []string `json:"departments"`
}

// SupportedRegions is the static region table. The first ten metropolitan
// entries in DefaultPartitions are the regions fetched by default.
var SupportedRegions = []Region{
	{Code: "11", Name: "Île-de-France", Departments: []string{"75", "77", "78", "91", "92", "93", "94", "95"}},
	{Code: "24", Name: "Centre-Val de Loire", Departments: []string{"18", "28", "36", "37", "41", "45"}},
	{Code: "27", Name: "Bourgogne-Franche-Comté", Departments: []string{"21", "25", "39", "58", "70", "71", "89", "90"}},
	{Code: "28", Name: "Normandie", Departments: []string{"14", "27", "50", "61", "76"}},
	{Code: "32", Name: "Hauts-de-France", Departments: []string{"02", "59", "60", "62", "80"}},
	{Code: "44", Name: "Grand Est", Departments: []string{"08", "10", "51", "52", "54", "55", "57", "67", "68", "88"}},
	{Code: "52", Name: "Pays de la Loire", Departments: []string{"44", "49", "53", "72", "85"}},
	{Code: "53", Name: "Bretagne", Departments: []string{"22", "29", "35", "56"}},
	{Code: "75", Name: "Nouvelle-Aquitaine", Departments: []string{"16", "17", "19", "23", "24", "33", "40", "47", "64", "79", "86", "87"}},
	{Code: "76", Name: "Occitanie", Departments: []string{"09", "11", "12", "30", "31", "32", "34", "46", "48", "65", "66", "81", "82"}},
	{Code: "84", Name: "Auvergne-Rhône-Alpes", Departments: []string{"01", "03", "07", "15", "26", "38", "42", "43", "63", "69", "73", "74"}},
	{Code: "93", Name: "Provence-Alpes-Côte d'Azur", Departments: []string{"04", "05", "06", "13", "83", "84"}},
	{Code: "94", Name: "Corse", Departments: []string{"2A", "2B"}},
	{Code: "01", Name: "Guadeloupe", Departments: []string{"971"}},
	{Code: "02", Name: "Martinique", Departments: []string{"972"}},
	{Code: "03", Name: "Guyane", Departments: []string{"973"}},
	{Code: "04", Name: "La Réunion", Departments: []string{"974"}},
	{Code: "06", Name: "Mayotte", Departments: []string{"976"}},
}

// DefaultPartitions are the ten regions the reference feed is fetched for
var DefaultPartitions = []string{"11", "84", "93", "76", "75", "32", "44", "52", "53", "28"}

var departmentRegions = buildDepartmentIndex()

func buildDepartmentIndex() map[string]*Region {
	index := make(map[string]*Region)
	for i := range SupportedRegions {
		for _, dep := range SupportedRegions[i].Departments {
			index[dep] = &SupportedRegions[i]
		}
	}
	return index
}

// GetRegionCodes returns the codes of every supported region
func GetRegionCodes() []string {
	codes := make([]string, len(SupportedRegions))
	for i, region := range SupportedRegions {
		codes[i] = region.Code
	}
	return codes
}

// GetRegionByCode returns a region by its code
func GetRegionByCode(code string) *Region {
	for i := range SupportedRegions {
		if SupportedRegions[i].Code == code {
			return &SupportedRegions[i]
		}
	}
	return nil
}

// RegionForDepartment returns the region name a department belongs to,
// or UnknownRegion.
func RegionForDepartment(department string) string {
	if region, ok := departmentRegions[NormalizeDepartment(department)]; ok {
		return region.Name
	}
	return UnknownRegion
}

// NormalizeDepartment upper-cases and zero-pads a department code ("1" -> "01", "2a" -> "2A")
func NormalizeDepartment(department string) string {
	dep := strings.ToUpper(strings.TrimSpace(department))
	if len(dep) == 1 && dep[0] >= '0' && dep[0] <= '9' {
		dep = "0" + dep
	}
	return dep
}

// DepartmentFromPostalCode derives the department code from a French postal code.
// Returns "" when the postal code is not usable.
func DepartmentFromPostalCode(postalCode string) string {
	pc := strings.TrimSpace(postalCode)
	if len(pc) == 4 {
		pc = "0" + pc
	}
	if len(pc) != 5 {
		return ""
	}
	n, err := strconv.Atoi(pc)
	if err != nil {
		return ""
	}

	switch {
	case strings.HasPrefix(pc, "97"), strings.HasPrefix(pc, "98"):
		return pc[:3]
	case strings.HasPrefix(pc, "20"):
		// Corsica: 200xx/201xx are Corse-du-Sud, the rest Haute-Corse
		if n < 20200 {
			return "2A"
		}
		return "2B"
	default:
		return pc[:2]
	}
}
