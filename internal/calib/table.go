package calib

// ultraLegacy holds the Run-2 Ultra-Legacy working points published by the
// BTV POG. 2016 is split into the APV (pre-VFP) and post-VFP periods.
var ultraLegacy = []Entry{
	{Year: "2016", APV: true, Algorithm: DeepCSV, WorkingPoint: Loose, Threshold: 0.2027},
	{Year: "2016", APV: true, Algorithm: DeepCSV, WorkingPoint: Medium, Threshold: 0.6001},
	{Year: "2016", APV: true, Algorithm: DeepCSV, WorkingPoint: Tight, Threshold: 0.8819},
	{Year: "2016", APV: true, Algorithm: DeepJet, WorkingPoint: Loose, Threshold: 0.0508},
	{Year: "2016", APV: true, Algorithm: DeepJet, WorkingPoint: Medium, Threshold: 0.2598},
	{Year: "2016", APV: true, Algorithm: DeepJet, WorkingPoint: Tight, Threshold: 0.6502},

	{Year: "2016", Algorithm: DeepCSV, WorkingPoint: Loose, Threshold: 0.1918},
	{Year: "2016", Algorithm: DeepCSV, WorkingPoint: Medium, Threshold: 0.5847},
	{Year: "2016", Algorithm: DeepCSV, WorkingPoint: Tight, Threshold: 0.8767},
	{Year: "2016", Algorithm: DeepJet, WorkingPoint: Loose, Threshold: 0.0480},
	{Year: "2016", Algorithm: DeepJet, WorkingPoint: Medium, Threshold: 0.2489},
	{Year: "2016", Algorithm: DeepJet, WorkingPoint: Tight, Threshold: 0.6377},

	{Year: "2017", Algorithm: DeepCSV, WorkingPoint: Loose, Threshold: 0.1355},
	{Year: "2017", Algorithm: DeepCSV, WorkingPoint: Medium, Threshold: 0.4506},
	{Year: "2017", Algorithm: DeepCSV, WorkingPoint: Tight, Threshold: 0.7738},
	{Year: "2017", Algorithm: DeepJet, WorkingPoint: Loose, Threshold: 0.0532},
	{Year: "2017", Algorithm: DeepJet, WorkingPoint: Medium, Threshold: 0.3040},
	{Year: "2017", Algorithm: DeepJet, WorkingPoint: Tight, Threshold: 0.7476},

	{Year: "2018", Algorithm: DeepCSV, WorkingPoint: Loose, Threshold: 0.1208},
	{Year: "2018", Algorithm: DeepCSV, WorkingPoint: Medium, Threshold: 0.4168},
	{Year: "2018", Algorithm: DeepCSV, WorkingPoint: Tight, Threshold: 0.7665},
	{Year: "2018", Algorithm: DeepJet, WorkingPoint: Loose, Threshold: 0.0490},
	{Year: "2018", Algorithm: DeepJet, WorkingPoint: Medium, Threshold: 0.2783},
	{Year: "2018", Algorithm: DeepJet, WorkingPoint: Tight, Threshold: 0.7100},
}
