/*
Copyright © 2021 the PYRITE authors.
This file is part of PYRITE.

PYRITE is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PYRITE is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PYRITE.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package pyrite is an inverse model of ocean particle cycling.
//
// Size-fractionated particulate organic carbon (POC) profiles are
// combined with prior estimates of particle cycling rates (production,
// sinking, remineralization, aggregation, disaggregation and, optionally,
// zooplankton-mediated transport) in a nonlinear weighted least-squares
// inversion, the algorithm of total inversion (ATI). The state vector
// is assumed to be lognormally distributed, so the inversion is carried
// out on the logarithm of the state.
//
// A Model is assembled from a Config and a set of Tracers, initialized
// with the priors derived from the tracer observations, and then run
// once for every model error factor (gamma) in the configuration.
// The results of each inversion are stored in a Run, which holds the
// posterior estimates and the derived inventories, fluxes, and
// timescales along with their propagated uncertainties.
package pyrite

// Version gives the version number.
const Version = "1.0.0"
